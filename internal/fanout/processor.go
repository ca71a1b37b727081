package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/template"
	"github.com/investment-reminders/backend/internal/validation"
)

// DateLayout formats event and reminder times in rendered content.
const DateLayout = "Mon, 02 Jan 2006 15:04 MST"

// Processor performs one delivery attempt for a claimed job: it loads the
// event and the recipient, renders the template and dispatches the result.
type Processor struct {
	events     *storage.EventRepository
	contacts   *storage.ContactRepository
	engine     *template.Engine
	dispatcher *Dispatcher
	location   *time.Location
	log        zerolog.Logger
}

// NewProcessor creates a processor. Dates are rendered in loc.
func NewProcessor(
	events *storage.EventRepository,
	contacts *storage.ContactRepository,
	engine *template.Engine,
	dispatcher *Dispatcher,
	loc *time.Location,
	log zerolog.Logger,
) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	return &Processor{
		events:     events,
		contacts:   contacts,
		engine:     engine,
		dispatcher: dispatcher,
		location:   loc,
		log:        log,
	}
}

// Handle runs one attempt and classifies its outcome.
func (p *Processor) Handle(ctx context.Context, job *models.DeliveryJob) Outcome {
	start := time.Now()
	fail := func(err error) Outcome {
		return Failure(err, time.Since(start))
	}

	event, err := p.events.GetByID(ctx, job.EventID)
	if err != nil {
		return fail(Transient(err))
	}
	if event == nil {
		return fail(Terminal(fmt.Errorf("event %s no longer exists", job.EventID)))
	}

	contact, err := p.contacts.Get(ctx, job.UserID)
	if err != nil {
		return fail(Transient(err))
	}
	to := recipientOf(job.UserID, contact)

	templateID := ""
	if job.TemplateID != nil {
		templateID = *job.TemplateID
	}

	content, err := p.engine.Render(ctx, templateID, job.Channel, Variables(event, to, job, p.location))
	if err != nil {
		p.log.Warn().Err(err).Str("job_id", job.ID).Str("channel", job.Channel).Msg("rendering reminder")
		if _, ok := validation.As(err); ok || errors.Is(err, template.ErrTemplateNotFound) {
			return fail(Terminal(err))
		}
		return fail(Transient(err))
	}

	return p.dispatcher.Dispatch(ctx, job, to, content)
}

// Variables builds the template variables for one delivery.
func Variables(event *models.Event, to Recipient, job *models.DeliveryJob, loc *time.Location) map[string]string {
	return map[string]string{
		template.VarEventTitle:       event.Title,
		template.VarEventDate:        event.EventDate.In(loc).Format(DateLayout),
		template.VarEventType:        event.EventType,
		template.VarEventDescription: event.Description,
		template.VarUserName:         to.Name,
		template.VarReminderTime:     job.ScheduledTime.In(loc).Format(DateLayout),
	}
}

func recipientOf(userID string, c *models.Contact) Recipient {
	to := Recipient{UserID: userID, Name: userID}
	if c == nil {
		return to
	}
	if c.DisplayName != "" {
		to.Name = c.DisplayName
	}
	if c.Email != nil {
		to.Email = *c.Email
	}
	if c.Phone != nil {
		to.Phone = *c.Phone
	}
	return to
}
