package rules

import (
	"testing"
	"time"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// 2026-10-19 is a Monday.
var monday0845 = time.Date(2026, 10, 19, 8, 45, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestNextFireTimeCustomWeekly(t *testing.T) {
	e := NewEvaluator(time.UTC)
	rule := &models.ReminderRule{
		ID:         "r1",
		RuleType:   models.RuleTypeCustom,
		DaysOfWeek: []int{int(time.Monday)},
		TimeOfDay:  "09:00",
	}
	eventDate := time.Date(2026, 11, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		asOf time.Time
		want time.Time
	}{
		{"later the same day", monday0845, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)},
		{"exactly at the slot", time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)},
		{"slot passed rolls a week", time.Date(2026, 10, 19, 9, 5, 0, 0, time.UTC), time.Date(2026, 10, 26, 9, 0, 0, 0, time.UTC)},
		{"midweek", time.Date(2026, 10, 22, 14, 0, 0, 0, time.UTC), time.Date(2026, 10, 26, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := e.NextFireTime(rule, eventDate, tt.asOf)
			if err != nil {
				t.Fatalf("NextFireTime: %v", err)
			}
			if !ok {
				t.Fatal("expected an occurrence")
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextFireTimeCustomBoundedByEventDate(t *testing.T) {
	e := NewEvaluator(time.UTC)
	rule := &models.ReminderRule{
		ID:         "r1",
		RuleType:   models.RuleTypeCustom,
		DaysOfWeek: []int{int(time.Monday)},
		TimeOfDay:  "09:00",
	}
	// Event on Thursday; the next Monday slot after the current one is past it.
	eventDate := time.Date(2026, 10, 22, 18, 0, 0, 0, time.UTC)

	_, ok, err := e.NextFireTime(rule, eventDate, time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NextFireTime: %v", err)
	}
	if ok {
		t.Error("expected no occurrence after the event date")
	}
}

func TestNextFireTimeCustomUsesLocation(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	e := NewEvaluator(est)
	rule := &models.ReminderRule{
		ID:         "r1",
		RuleType:   models.RuleTypeCustom,
		DaysOfWeek: []int{int(time.Monday)},
		TimeOfDay:  "09:00",
	}

	got, ok, err := e.NextFireTime(rule, time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), monday0845)
	if err != nil || !ok {
		t.Fatalf("NextFireTime: ok=%v err=%v", ok, err)
	}
	want := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got.UTC(), want)
	}
}

func TestNextFireTimeInterval(t *testing.T) {
	e := NewEvaluator(nil)
	eventDate := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		value int
		unit  string
		want  time.Time
	}{
		{30, models.IntervalMinutes, time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC)},
		{2, models.IntervalHours, time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)},
		{1, models.IntervalDays, time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{1, models.IntervalWeeks, time.Date(2026, 10, 13, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		rule := &models.ReminderRule{
			ID:            "r",
			RuleType:      models.RuleTypeInterval,
			IntervalValue: intPtr(tt.value),
			IntervalUnit:  strPtr(tt.unit),
		}
		got, ok, err := e.NextFireTime(rule, eventDate, monday0845)
		if err != nil || !ok {
			t.Fatalf("%d %s: ok=%v err=%v", tt.value, tt.unit, ok, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%d %s: got %v, want %v", tt.value, tt.unit, got, tt.want)
		}
	}
}

func TestNextFireTimeMalformed(t *testing.T) {
	e := NewEvaluator(time.UTC)
	eventDate := monday0845.Add(48 * time.Hour)

	rules := []*models.ReminderRule{
		{ID: "a", RuleType: models.RuleTypeFixed},
		{ID: "b", RuleType: models.RuleTypeInterval, IntervalValue: intPtr(1), IntervalUnit: strPtr("fortnights")},
		{ID: "c", RuleType: models.RuleTypeCustom, DaysOfWeek: []int{1}, TimeOfDay: "25:99"},
		{ID: "d", RuleType: "lunar"},
		{ID: "e", RuleType: models.RuleTypeInterval, IntervalValue: intPtr(20000), IntervalUnit: strPtr(models.IntervalWeeks)},
	}
	for _, r := range rules {
		if _, _, err := e.NextFireTime(r, eventDate, monday0845); err == nil {
			t.Errorf("rule %s: expected error", r.ID)
		}
	}
}

func TestIsDue(t *testing.T) {
	lookahead := 30 * time.Minute
	cases := []struct {
		fire time.Time
		want bool
	}{
		{monday0845, true},
		{monday0845.Add(30 * time.Minute), true},
		{monday0845.Add(31 * time.Minute), false},
		{monday0845.Add(-time.Second), false},
	}
	for _, c := range cases {
		if got := IsDue(c.fire, monday0845, lookahead); got != c.want {
			t.Errorf("IsDue(%v) = %v, want %v", c.fire, got, c.want)
		}
	}

	fixed := &models.ReminderRule{RuleType: models.RuleTypeFixed, FireAt: timePtr(monday0845.Add(10 * time.Minute))}
	fire, ok, err := NewEvaluator(nil).NextFireTime(fixed, monday0845.Add(time.Hour), monday0845)
	if err != nil || !ok || !IsDue(fire, monday0845, lookahead) {
		t.Errorf("fixed rule should be due: fire=%v ok=%v err=%v", fire, ok, err)
	}
}
