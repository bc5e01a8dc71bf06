package schedule

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestNextExecutionDate_Steps(t *testing.T) {
	start := date(2024, 3, 10)

	cases := []struct {
		freq Frequency
		want time.Time
	}{
		{Daily, date(2024, 3, 11)},
		{Weekly, date(2024, 3, 17)},
		{BiWeekly, date(2024, 3, 24)},
		{Monthly, date(2024, 4, 10)},
		{Quarterly, date(2024, 6, 10)},
		{SemiAnnually, date(2024, 9, 10)},
		{Annually, date(2025, 3, 10)},
	}
	for _, c := range cases {
		got, ok := NextExecutionDate(start, c.freq)
		if !ok {
			t.Fatalf("%s: expected a next date", c.freq)
		}
		if !got.Equal(c.want) {
			t.Fatalf("%s: expected %s, got %s", c.freq, c.want, got)
		}
	}
}

func TestNextExecutionDate_OnceNeverRepeats(t *testing.T) {
	if _, ok := NextExecutionDate(date(2024, 3, 10), Once); ok {
		t.Fatalf("once should not produce a next date")
	}
}

func TestNextExecutionDate_MonthEndClamping(t *testing.T) {
	cases := []struct {
		name    string
		current time.Time
		freq    Frequency
		want    time.Time
	}{
		{"jan31 to leap feb", date(2024, 1, 31), Monthly, date(2024, 2, 29)},
		{"jan31 to plain feb", date(2023, 1, 31), Monthly, date(2023, 2, 28)},
		{"mar31 to apr30", date(2024, 3, 31), Monthly, date(2024, 4, 30)},
		{"nov30 quarterly to feb", date(2023, 11, 30), Quarterly, date(2024, 2, 29)},
		{"leap feb29 annually", date(2024, 2, 29), Annually, date(2025, 2, 28)},
	}
	for _, c := range cases {
		got, ok := NextExecutionDate(c.current, c.freq)
		if !ok {
			t.Fatalf("%s: expected a next date", c.name)
		}
		if !got.Equal(c.want) {
			t.Fatalf("%s: expected %s, got %s", c.name, c.want, got)
		}
	}
}

func TestNextExecutionDate_PreservesTimeOfDay(t *testing.T) {
	current := time.Date(2024, 1, 31, 23, 45, 12, 0, time.UTC)
	got, _ := NextExecutionDate(current, Monthly)
	if got.Hour() != 23 || got.Minute() != 45 || got.Second() != 12 {
		t.Fatalf("time of day changed: %s", got)
	}
}

func TestNextExecutionDate_Pure(t *testing.T) {
	current := date(2024, 5, 31)
	first, _ := NextExecutionDate(current, Monthly)
	second, _ := NextExecutionDate(current, Monthly)
	if !first.Equal(second) {
		t.Fatalf("not pure: %s vs %s", first, second)
	}
}
