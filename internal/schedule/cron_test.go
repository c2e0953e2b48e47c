package schedule

import (
	"errors"
	"testing"
	"time"
)

var wednesday = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func TestParseCadence(t *testing.T) {
	valid := []string{
		"* * * * *",
		"0 0 * * 0",
		"*/15 6-18 * * 1-5",
		"30 2 1 */3 *",
		"@hourly",
		"@weekly",
	}
	for _, expr := range valid {
		c, err := ParseCadence(expr)
		if err != nil {
			t.Errorf("ParseCadence(%q) error = %v", expr, err)
			continue
		}
		if c.String() != expr {
			t.Errorf("String() = %q, want %q", c.String(), expr)
		}
	}

	invalid := []string{"", "* * *", "0 0 0 * * *", "61 * * * *", "* 24 * * *", "* * 0 * *", "@every-other-day", "noon"}
	for _, expr := range invalid {
		if _, err := ParseCadence(expr); !errors.Is(err, ErrInvalidCron) {
			t.Errorf("ParseCadence(%q) error = %v, want ErrInvalidCron", expr, err)
		}
	}
}

func TestCadence_Next(t *testing.T) {
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 1, 15, 10, 31, 0, 0, time.UTC)},
		{"@hourly", time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)},
		{"0 9 * * 1", time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		c, err := ParseCadence(tt.expr)
		if err != nil {
			t.Fatalf("ParseCadence(%q): %v", tt.expr, err)
		}
		if got := c.Next(wednesday); !got.Equal(tt.want) {
			t.Errorf("%q: Next = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestCadence_Upcoming(t *testing.T) {
	c, err := ParseCadence("0 */6 * * *")
	if err != nil {
		t.Fatal(err)
	}

	want := []time.Time{
		time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC),
	}
	got := c.Upcoming(wednesday, len(want))
	if len(got) != len(want) {
		t.Fatalf("Upcoming returned %d times, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("Upcoming[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if n := len(c.Upcoming(wednesday, 0)); n != 0 {
		t.Errorf("Upcoming(0) returned %d times", n)
	}
}

func TestNextFiring(t *testing.T) {
	next, err := nextFiring("30 10 * * *", wednesday)
	if err != nil {
		t.Fatal(err)
	}
	if want := wednesday.AddDate(0, 0, 1); !next.Equal(want) {
		t.Errorf("nextFiring = %v, want %v (strictly after)", next, want)
	}

	if _, err := nextFiring("bad", wednesday); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("nextFiring(bad) error = %v, want ErrInvalidCron", err)
	}
}
