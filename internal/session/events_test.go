package session

import (
	"errors"
	"sync"
	"testing"
)

func request(n int64) *Event {
	return &Event{Type: EventRequest, Callout: n, BatchSize: 1}
}

func indices(events []*BufferedEvent) []int {
	out := make([]int, len(events))
	for i, be := range events {
		out[i] = be.Index
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEventLog_Since(t *testing.T) {
	log := NewEventLog("run", 10)
	for n := int64(1); n <= 3; n++ {
		if be := log.Append(request(n)); be.Index != int(n-1) {
			t.Fatalf("Append #%d got index %d", n, be.Index)
		}
	}

	tests := []struct {
		since int
		want  []int
	}{
		{-1, []int{0, 1, 2}},
		{0, []int{1, 2}},
		{1, []int{2}},
		{2, []int{}},
		{50, []int{}},
	}
	for _, tt := range tests {
		got, err := log.Since(tt.since)
		if err != nil {
			t.Fatalf("Since(%d) error = %v", tt.since, err)
		}
		if !equalInts(indices(got), tt.want) {
			t.Errorf("Since(%d) = %v, want %v", tt.since, indices(got), tt.want)
		}
	}
}

func TestEventLog_Wraps(t *testing.T) {
	log := NewEventLog("run", 3)
	for n := int64(0); n < 7; n++ {
		log.Append(request(n))
	}

	stats := log.Stats()
	if stats.CurrentSize != 3 || stats.StartIndex != 4 || stats.LastIndex != 6 || stats.DroppedEvents != 4 {
		t.Errorf("Stats() = %+v", stats)
	}

	all, err := log.Since(-1)
	if err != nil {
		t.Fatal(err)
	}
	if !equalInts(indices(all), []int{4, 5, 6}) {
		t.Errorf("Since(-1) = %v, want [4 5 6]", indices(all))
	}
	if all[0].Event.Callout != 4 {
		t.Errorf("oldest retained callout = %d, want 4", all[0].Event.Callout)
	}

	// 3 is the last index a poller could have seen and still resume.
	if got, err := log.Since(3); err != nil || len(got) != 3 {
		t.Errorf("Since(3) = %v, %v", indices(got), err)
	}
	if _, err := log.Since(2); !errors.Is(err, ErrEventsPurged) {
		t.Errorf("Since(2) error = %v, want ErrEventsPurged", err)
	}
}

func TestEventLog_Empty(t *testing.T) {
	log := NewEventLog("run", 0)
	if log.LastIndex() != -1 || log.Len() != 0 {
		t.Errorf("empty log: LastIndex=%d Len=%d", log.LastIndex(), log.Len())
	}
	if got := log.Stats().MaxSize; got != DefaultEventLogSize {
		t.Errorf("MaxSize = %d, want %d", got, DefaultEventLogSize)
	}
	if got, err := log.Since(-1); err != nil || len(got) != 0 {
		t.Errorf("Since(-1) on empty = %v, %v", got, err)
	}
}

func TestEventLog_Concurrent(t *testing.T) {
	log := NewEventLog("run", 16)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				log.Append(request(int64(i)))
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, _ = log.Since(-1)
				log.Stats()
			}
		}()
	}
	wg.Wait()

	if log.LastIndex() != 99 || log.Len() != 16 {
		t.Errorf("after 100 appends: LastIndex=%d Len=%d", log.LastIndex(), log.Len())
	}
}
