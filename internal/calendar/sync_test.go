package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/storage/models"
)

func TestSyncFeedImportsFutureEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := `BEGIN:VEVENT
UID:acme-q2@ir.example
DTSTAMP:20260601T000000Z
DTSTART:20260723T140000Z
SUMMARY:ACME Q2 Earnings Call
END:VEVENT`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(feedICS(past, earningsVEvent, dividendVEvent)))
	}))
	defer srv.Close()

	feed := &models.CalendarFeed{UserID: "u1", Name: "ACME IR", URL: srv.URL, Enabled: true}
	if err := f.feeds.Create(ctx, feed); err != nil {
		t.Fatalf("creating feed: %v", err)
	}

	sync := NewSyncService(f.feeds, NewParser(), f.svc, zerolog.Nop())
	sync.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }

	result, err := sync.SyncFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("SyncFeed: %v", err)
	}
	if result.EventsFound != 3 || result.EventsCreated != 2 || result.EventsUpdated != 0 {
		t.Errorf("result = %+v", result)
	}

	again, err := sync.SyncFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("second SyncFeed: %v", err)
	}
	if again.EventsCreated != 0 || again.EventsUpdated != 0 {
		t.Errorf("second result = %+v", again)
	}

	events, err := f.svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].EventType != models.EventTypeEarnings || events[1].EventType != models.EventTypeDividend {
		t.Errorf("types = %s, %s", events[0].EventType, events[1].EventType)
	}

	stored, _ := f.feeds.GetByID(ctx, feed.ID)
	if stored.SyncStatus != models.SyncStatusSuccess || stored.LastSyncAt == nil {
		t.Errorf("feed = %+v", stored)
	}
}

func TestSyncFeedRecordsFetchError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	feed := &models.CalendarFeed{UserID: "u1", Name: "Broken", URL: srv.URL, Enabled: true}
	if err := f.feeds.Create(ctx, feed); err != nil {
		t.Fatalf("creating feed: %v", err)
	}

	sync := NewSyncService(f.feeds, NewParser(), f.svc, zerolog.Nop())
	if _, err := sync.SyncFeed(ctx, feed.ID); err == nil {
		t.Fatal("expected an error")
	}

	stored, _ := f.feeds.GetByID(ctx, feed.ID)
	if stored.SyncStatus != models.SyncStatusError || stored.SyncError == nil {
		t.Errorf("feed = %+v", stored)
	}
}

func TestSyncUnknownFeed(t *testing.T) {
	f := newFixture(t)
	sync := NewSyncService(f.feeds, NewParser(), f.svc, zerolog.Nop())

	if _, err := sync.SyncFeed(context.Background(), "missing"); !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("err = %v, want ErrFeedNotFound", err)
	}
}
