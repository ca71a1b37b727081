// Package calendar manages investment events: their lifecycle and the
// import of events from subscribed ICS feeds.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// Parser fetches and parses ICS feeds.
type Parser struct {
	httpClient *http.Client
}

// NewParser creates a new ICS parser.
func NewParser() *Parser {
	return &Parser{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchAndParse downloads and parses the feed at url.
func (p *Parser) FetchAndParse(ctx context.Context, url string) ([]models.CalendarEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	return p.Parse(resp.Body)
}

// Parse reads every VEVENT of every calendar in r. Events without a UID or
// a start are skipped.
func (p *Parser) Parse(r io.Reader) ([]models.CalendarEvent, error) {
	dec := ical.NewDecoder(r)

	var events []models.CalendarEvent
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding feed: %w", err)
		}

		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			if event, ok := parseEvent(comp); ok {
				events = append(events, event)
			}
		}
	}

	return events, nil
}

func parseEvent(comp *ical.Component) (models.CalendarEvent, bool) {
	event := models.CalendarEvent{
		UID:         text(comp, ical.PropUID),
		Summary:     text(comp, ical.PropSummary),
		Description: text(comp, ical.PropDescription),
	}

	prop := comp.Props.Get(ical.PropDateTimeStart)
	if prop == nil || event.UID == "" {
		return event, false
	}
	start, err := prop.DateTime(time.UTC)
	if err != nil {
		return event, false
	}
	event.Start = start.UTC()
	event.AllDay = prop.Params.Get(ical.ParamValue) == string(ical.ValueDate)

	return event, true
}

func text(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	if v, err := prop.Text(); err == nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(prop.Value)
}

// FilterFutureEvents returns only events starting after now.
func FilterFutureEvents(events []models.CalendarEvent, now time.Time) []models.CalendarEvent {
	var future []models.CalendarEvent
	for _, e := range events {
		if e.Start.After(now) {
			future = append(future, e)
		}
	}
	return future
}

var typeKeywords = []struct {
	eventType string
	words     []string
}{
	{models.EventTypeDividend, []string{"dividend", "ex-div", "payout"}},
	{models.EventTypeEarnings, []string{"earnings", "results", "eps", "quarterly report"}},
	{models.EventTypeIPO, []string{"ipo", "listing", "initial public offering"}},
	{models.EventTypeMeeting, []string{"meeting", "agm", "shareholder", "call"}},
}

// InferEventType guesses the event type from its summary, falling back to
// fallback (or "other").
func InferEventType(summary, fallback string) string {
	lower := strings.ToLower(summary)
	for _, k := range typeKeywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				return k.eventType
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return models.EventTypeOther
}
