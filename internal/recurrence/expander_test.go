package recurrence

import (
	"errors"
	"testing"

	"tally/internal/core"
)

func rule(freq core.Frequency, start core.Date) core.RecurrenceRule {
	return core.RecurrenceRule{
		ID:        "r1",
		UserID:    "u1",
		AccountID: "a1",
		Amount:    core.Money{Cents: 1500},
		Kind:      core.Expense,
		Frequency: freq,
		StartDate: start,
		IsActive:  true,
	}
}

func keys(dates []core.Date) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Key()
	}
	return out
}

func assertDates(t *testing.T, got []core.Date, want ...string) {
	t.Helper()
	gotKeys := keys(got)
	if len(gotKeys) != len(want) {
		t.Fatalf("got %d occurrences %v, want %d %v", len(gotKeys), gotKeys, len(want), want)
	}
	for i := range want {
		if gotKeys[i] != want[i] {
			t.Fatalf("occurrence %d = %s, want %s (full: %v)", i, gotKeys[i], want[i], gotKeys)
		}
	}
}

func TestExpandDaily(t *testing.T) {
	r := rule(core.Daily, core.NewDate(2024, 3, 1))
	got, err := Expand(r, core.NewDate(2024, 3, 10), core.NewDate(2024, 3, 13))
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, got, "2024-03-10", "2024-03-11", "2024-03-12", "2024-03-13")
}

func TestExpandWeeklyAlignsToAnchorWeekday(t *testing.T) {
	// 2024-03-06 is a Wednesday.
	r := rule(core.Weekly, core.NewDate(2024, 3, 6))
	got, err := Expand(r, core.NewDate(2024, 3, 10), core.NewDate(2024, 3, 31))
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, got, "2024-03-13", "2024-03-20", "2024-03-27")
}

func TestExpandMonthlyClampsShortMonths(t *testing.T) {
	r := rule(core.Monthly, core.NewDate(2023, 1, 31))

	t.Run("non-leap february clamps to 28", func(t *testing.T) {
		got, err := Expand(r, core.NewDate(2023, 1, 1), core.NewDate(2023, 4, 30))
		if err != nil {
			t.Fatal(err)
		}
		assertDates(t, got, "2023-01-31", "2023-02-28", "2023-03-31", "2023-04-30")
	})

	t.Run("leap february clamps to 29", func(t *testing.T) {
		got, err := Expand(r, core.NewDate(2024, 2, 1), core.NewDate(2024, 3, 31))
		if err != nil {
			t.Fatal(err)
		}
		assertDates(t, got, "2024-02-29", "2024-03-31")
	})
}

func TestExpandYearlyClampsFeb29(t *testing.T) {
	r := rule(core.Yearly, core.NewDate(2024, 2, 29))
	got, err := Expand(r, core.NewDate(2024, 1, 1), core.NewDate(2026, 12, 31))
	if err != nil {
		t.Fatal(err)
	}
	assertDates(t, got, "2024-02-29", "2025-02-28", "2026-02-28")
}

func TestExpandWindowExactness(t *testing.T) {
	r := rule(core.Daily, core.NewDate(2024, 3, 5))
	r.EndDate = core.NewDate(2024, 3, 20)

	got, err := Expand(r, core.NewDate(2024, 3, 1), core.NewDate(2024, 4, 15))
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range got {
		if d.Before(r.StartDate.Time) || d.After(r.EndDate.Time) {
			t.Errorf("occurrence %s outside rule range", d.Key())
		}
	}
	assertDates(t, got[:1], "2024-03-05")
	if last := got[len(got)-1].Key(); last != "2024-03-20" {
		t.Errorf("last occurrence = %s, want 2024-03-20", last)
	}
}

func TestExpandEmptyIntersection(t *testing.T) {
	r := rule(core.Monthly, core.NewDate(2024, 6, 1))
	r.EndDate = core.NewDate(2024, 8, 1)

	got, err := Expand(r, core.NewDate(2024, 9, 1), core.NewDate(2024, 12, 31))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no occurrences, got %v", keys(got))
	}
}

func TestExpandDeterministic(t *testing.T) {
	r := rule(core.Weekly, core.NewDate(2024, 1, 1))
	first, err := Expand(r, core.NewDate(2024, 1, 1), core.NewDate(2024, 6, 30))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Expand(r, core.NewDate(2024, 1, 1), core.NewDate(2024, 6, 30))
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d returned %d occurrences, want %d", i, len(again), len(first))
		}
		for j := range first {
			if !again[j].Equal(first[j].Time) {
				t.Fatalf("run %d occurrence %d differs", i, j)
			}
		}
	}
}

func TestExpandInvalidRule(t *testing.T) {
	var ve core.ValidationError

	r := rule("fortnightly", core.NewDate(2024, 1, 1))
	if _, err := Expand(r, core.NewDate(2024, 1, 1), core.NewDate(2024, 2, 1)); !errors.As(err, &ve) {
		t.Errorf("unknown frequency: got %v, want ValidationError", err)
	}

	r = rule(core.Daily, core.Date{})
	if _, err := Expand(r, core.NewDate(2024, 1, 1), core.NewDate(2024, 2, 1)); !errors.As(err, &ve) {
		t.Errorf("missing start date: got %v, want ValidationError", err)
	}

	r = rule(core.Daily, core.NewDate(2024, 1, 1))
	if _, err := Expand(r, core.NewDate(2024, 2, 1), core.NewDate(2024, 1, 1)); !errors.As(err, &ve) {
		t.Errorf("inverted window: got %v, want ValidationError", err)
	}
}
