package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/investment-reminders/backend/internal/storage/models"
)

func feedICS(events ...string) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Investor Relations//Calendar//EN",
	}
	for _, e := range events {
		lines = append(lines, strings.Split(e, "\n")...)
	}
	lines = append(lines, "END:VCALENDAR")
	return strings.Join(lines, "\r\n") + "\r\n"
}

const earningsVEvent = `BEGIN:VEVENT
UID:acme-q3@ir.example
DTSTAMP:20261001T000000Z
DTSTART:20261023T140000Z
SUMMARY:ACME Q3 Earnings Call
DESCRIPTION:Results and outlook
END:VEVENT`

const dividendVEvent = `BEGIN:VEVENT
UID:acme-div@ir.example
DTSTAMP:20261001T000000Z
DTSTART;VALUE=DATE:20261115
SUMMARY:ACME ex-dividend date
END:VEVENT`

const noUIDVEvent = `BEGIN:VEVENT
DTSTAMP:20261001T000000Z
DTSTART:20261101T090000Z
SUMMARY:Anonymous
END:VEVENT`

func TestParseReadsEvents(t *testing.T) {
	events, err := NewParser().Parse(strings.NewReader(feedICS(earningsVEvent, dividendVEvent, noUIDVEvent)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	e := events[0]
	if e.UID != "acme-q3@ir.example" || e.Summary != "ACME Q3 Earnings Call" || e.Description != "Results and outlook" {
		t.Errorf("event = %+v", e)
	}
	if want := time.Date(2026, 10, 23, 14, 0, 0, 0, time.UTC); !e.Start.Equal(want) || e.AllDay {
		t.Errorf("start = %v all-day=%v, want %v", e.Start, e.AllDay, want)
	}

	d := events[1]
	if !d.AllDay {
		t.Error("date-only event should be all-day")
	}
	if want := time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC); !d.Start.Equal(want) {
		t.Errorf("start = %v, want %v", d.Start, want)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := NewParser().Parse(strings.NewReader("not a calendar\r\n")); err == nil {
		t.Error("expected an error")
	}
}

func TestFilterFutureEvents(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	events := []models.CalendarEvent{
		{UID: "past", Start: now.Add(-time.Hour)},
		{UID: "now", Start: now},
		{UID: "future", Start: now.Add(time.Hour)},
	}

	got := FilterFutureEvents(events, now)
	if len(got) != 1 || got[0].UID != "future" {
		t.Errorf("got %+v", got)
	}
}

func TestInferEventType(t *testing.T) {
	tests := []struct {
		summary  string
		fallback string
		want     string
	}{
		{"ACME ex-dividend date", "", models.EventTypeDividend},
		{"ACME Q3 Earnings Call", "", models.EventTypeEarnings},
		{"Initial Public Offering: Widgets Inc", "", models.EventTypeIPO},
		{"Annual Shareholder Meeting", "", models.EventTypeMeeting},
		{"Board offsite", models.EventTypeMeeting, models.EventTypeMeeting},
		{"Board offsite", "", models.EventTypeOther},
	}

	for _, tt := range tests {
		if got := InferEventType(tt.summary, tt.fallback); got != tt.want {
			t.Errorf("InferEventType(%q, %q) = %q, want %q", tt.summary, tt.fallback, got, tt.want)
		}
	}
}
