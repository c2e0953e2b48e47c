package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HyphaGroup/assimilate/internal/logger"
)

// Manager defaults
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultMaxActiveRuns = 32
)

// ErrIdleTimeout is the abort cause for runs nobody drove for too long.
var ErrIdleTimeout = errors.New("run idle timeout")

// Manager tracks the runs a server holds in memory. Running sessions count
// against the limit; idle running sessions are aborted and finished ones are
// evicted once they have been quiet for the idle timeout.
type Manager struct {
	runs        map[string]*Session
	maxActive   int
	idleTimeout time.Duration
	mu          sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewManager creates a manager and starts its cleanup loop. Call Close to
// stop it.
func NewManager(maxActive int, idleTimeout time.Duration) *Manager {
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveRuns
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	m := &Manager{
		runs:        make(map[string]*Session),
		maxActive:   maxActive,
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupLoop()
	return m
}

// Register adds a session to the manager
func (m *Manager) Register(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[s.ID()]; exists {
		return fmt.Errorf("run %s already registered", s.ID())
	}
	if active := m.countActiveLocked(); active >= m.maxActive {
		logger.Error("Run registration rejected: max active runs (%d) reached", m.maxActive)
		return fmt.Errorf("%w (%d)", ErrTooManyRuns, m.maxActive)
	}

	m.runs[s.ID()] = s
	logger.Info("Run registered: %s (case: %s)", s.ID(), s.Options().CaseName)
	return nil
}

// Get returns a session by run ID
func (m *Manager) Get(runID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.runs[runID]
	return s, ok
}

// Remove drops a session from the manager, aborting it if it still runs.
func (m *Manager) Remove(runID string) {
	m.mu.Lock()
	s, ok := m.runs[runID]
	delete(m.runs, runID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if !s.Status().Terminal() {
		s.Abort(fmt.Errorf("run %s removed", runID))
	}
	logger.Info("Run removed: %s (status: %s)", runID, s.Status())
}

// List returns summaries of every held run, oldest first.
func (m *Manager) List() []*Summary {
	m.mu.RLock()
	result := make([]*Summary, 0, len(m.runs))
	for _, s := range m.runs {
		result = append(result, s.Summary())
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Count returns the number of runs that have not finished
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countActiveLocked()
}

func (m *Manager) countActiveLocked() int {
	n := 0
	for _, s := range m.runs {
		if !s.Status().Terminal() {
			n++
		}
	}
	return n
}

// Close stops the cleanup loop and aborts every unfinished run.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()

	m.mu.Lock()
	runs := m.runs
	m.runs = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range runs {
		if !s.Status().Terminal() {
			s.Abort(errors.New("server shutting down"))
		}
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	interval := m.idleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep aborts idle externally controlled sessions and evicts quiet finished
// ones. It returns how many of each it handled.
func (m *Manager) sweep(now time.Time) (aborted, evicted int) {
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.runs {
		if now.Sub(s.LastActivity()) < m.idleTimeout {
			continue
		}
		if s.Status().Terminal() {
			delete(m.runs, id)
			evicted++
			continue
		}
		// A long evaluation is bounded by the evaluation timeout instead.
		if s.Driven() {
			continue
		}
		idle = append(idle, s)
	}
	m.mu.Unlock()

	for _, s := range idle {
		logger.Info("Aborting idle run %s (last activity %s)", s.ID(), s.LastActivity().Format(time.RFC3339))
		s.Abort(ErrIdleTimeout)
		aborted++
	}
	return aborted, evicted
}
