package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HyphaGroup/assimilate/internal/metrics"
)

// DefaultEventLogSize bounds the events a run keeps for polling.
const DefaultEventLogSize = 1000

// ErrEventsPurged is returned when a poller asks for events that have
// already been overwritten.
var ErrEventsPurged = errors.New("events purged")

// EventType classifies run events
type EventType string

const (
	EventStarted    EventType = "started"
	EventRequest    EventType = "request"
	EventResponse   EventType = "response"
	EventTerminated EventType = "terminated"
	EventAborted    EventType = "aborted"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
)

// Event is one entry of a run's protocol trace.
type Event struct {
	Type      EventType `json:"type"`
	Callout   int64     `json:"callout,omitempty"`
	BatchSize int       `json:"batch_size,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// BufferedEvent is an event with its position in the run's trace.
type BufferedEvent struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Event     *Event    `json:"event"`
}

// EventLogStats describes the retained window of an EventLog.
type EventLogStats struct {
	RunID         string `json:"run_id"`
	CurrentSize   int    `json:"current_size"`
	MaxSize       int    `json:"max_size"`
	StartIndex    int    `json:"start_index"`
	LastIndex     int    `json:"last_index"`
	DroppedEvents int64  `json:"dropped_events"`
}

// EventLog keeps the most recent events of a run in a fixed ring. Indices
// grow without bound; the ring retains [next-len, next).
//
// Pollers pass the last index they saw (-1 at first) and get everything
// newer. A poller that fell behind the ring gets ErrEventsPurged.
type EventLog struct {
	runID string

	mu      sync.RWMutex
	ring    []*BufferedEvent
	next    int // index the next event gets
	dropped int64
}

// NewEventLog returns a log retaining up to size events.
func NewEventLog(runID string, size int) *EventLog {
	if size <= 0 {
		size = DefaultEventLogSize
	}
	return &EventLog{runID: runID, ring: make([]*BufferedEvent, size)}
}

// Append stamps ev with the next index and stores it, overwriting the oldest
// event once the ring is full.
func (l *EventLog) Append(ev *Event) *BufferedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	be := &BufferedEvent{Index: l.next, Timestamp: time.Now(), Event: ev}
	slot := l.next % len(l.ring)
	if l.ring[slot] != nil {
		l.dropped++
		metrics.RecordEventDrop(l.runID)
	}
	l.ring[slot] = be
	l.next++
	return be
}

// first returns the oldest retained index. Callers hold mu.
func (l *EventLog) first() int {
	if l.next > len(l.ring) {
		return l.next - len(l.ring)
	}
	return 0
}

// Since returns the retained events with an index greater than index.
func (l *EventLog) Since(index int) ([]*BufferedEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	first := l.first()
	from := index + 1
	if index < 0 {
		from = first
	}
	if from < first {
		return nil, fmt.Errorf("%w: index %d is gone, oldest available is %d", ErrEventsPurged, index, first)
	}

	out := make([]*BufferedEvent, 0, max(l.next-from, 0))
	for i := from; i < l.next; i++ {
		out = append(out, l.ring[i%len(l.ring)])
	}
	return out, nil
}

// LastIndex returns the index of the newest event, or -1.
func (l *EventLog) LastIndex() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.next - 1
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.next - l.first()
}

func (l *EventLog) Stats() EventLogStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	first := l.first()
	return EventLogStats{
		RunID:         l.runID,
		CurrentSize:   l.next - first,
		MaxSize:       len(l.ring),
		StartIndex:    first,
		LastIndex:     l.next - 1,
		DroppedEvents: l.dropped,
	}
}
