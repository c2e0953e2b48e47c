package algorithm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/HyphaGroup/assimilate/internal/logger"
)

// Series is the ordered history of one named variable.
type Series []Vector

// Last returns the most recent entry.
func (s Series) Last() (Vector, bool) {
	if len(s) == 0 {
		return nil, false
	}
	return s[len(s)-1], true
}

// Observer templates
const (
	TemplateValuePrinter       = "ValuePrinter"
	TemplateValueSeriesPrinter = "ValueSeriesPrinter"
)

// Observer reports every value stored under Variable.
type Observer struct {
	Variable string
	Template string
	Info     string
}

func (o Observer) validate() error {
	if o.Variable == "" {
		return fmt.Errorf("observer variable is empty")
	}
	switch o.Template {
	case TemplateValuePrinter, TemplateValueSeriesPrinter:
		return nil
	default:
		return fmt.Errorf("unknown observer template %q", o.Template)
	}
}

func (o Observer) notify(series Series) {
	label := o.Info
	if label == "" {
		label = o.Variable
	}
	if o.Template == TemplateValueSeriesPrinter {
		logger.Info("%s: %v", label, series)
		return
	}
	v, _ := series.Last()
	logger.Info("%s: %v", label, v)
}

// State records the named series an algorithm produces.
type State struct {
	series    map[string]Series
	observers map[string][]Observer
	mu        sync.RWMutex
}

// NewState creates an empty history with the given observers attached.
func NewState(observers ...Observer) *State {
	s := &State{
		series:    make(map[string]Series),
		observers: make(map[string][]Observer),
	}
	for _, o := range observers {
		s.observers[o.Variable] = append(s.observers[o.Variable], o)
	}
	return s
}

// Store appends a copy of v to the named series and notifies its observers.
func (s *State) Store(name string, v Vector) {
	entry := make(Vector, len(v))
	copy(entry, v)

	s.mu.Lock()
	s.series[name] = append(s.series[name], entry)
	series := s.series[name]
	observers := s.observers[name]
	s.mu.Unlock()

	for _, o := range observers {
		o.notify(series)
	}
}

// Get returns the named series.
func (s *State) Get(name string) (Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchSeries, name)
	}
	out := make(Series, len(series))
	copy(out, series)
	return out, nil
}

// Names returns the names of all recorded series, sorted.
func (s *State) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
