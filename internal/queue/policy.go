package queue

import (
	"time"

	"github.com/investment-reminders/backend/internal/fanout"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// DefaultMaxRetries is the retry budget of a job when none is configured.
const DefaultMaxRetries = 3

var retryIntervals = map[string]time.Duration{
	models.ChannelEmail:        5 * time.Minute,
	models.ChannelNotification: 2 * time.Minute,
	models.ChannelSMS:          time.Minute,
}

// RetryInterval returns how long a channel waits before retrying a
// transient failure.
func RetryInterval(channel string) time.Duration {
	if d, ok := retryIntervals[channel]; ok {
		return d
	}
	return time.Minute
}

// decision is the settled state of a job after one attempt.
type decision struct {
	transition storage.JobTransition
	// ruleStatus is empty when the rule is left untouched.
	ruleStatus string
	// record is set when the attempt gets a history entry.
	record bool
}

// decide applies the retry policy to an attempt's outcome.
func decide(job *models.DeliveryJob, outcome fanout.Outcome, cancelRequested bool, now time.Time) decision {
	t := storage.JobTransition{
		RetryCount:     job.RetryCount,
		NextEligibleAt: job.NextEligibleAt,
		LastRetryAt:    job.LastRetryAt,
	}
	if msg := outcome.Message(); msg != "" {
		t.Error = &msg
	}

	switch {
	case outcome.Result == fanout.ResultSuccess:
		t.Status = models.JobStatusSent
		t.SentTime = &now
		if cancelRequested {
			// The rule was edited or disabled mid-attempt and already
			// carries its new schedule state.
			return decision{transition: t, record: true}
		}
		return decision{transition: t, ruleStatus: models.RuleStatusSent, record: true}

	case cancelRequested:
		t.Status = models.JobStatusCancelled
		return decision{transition: t}

	case outcome.Result == fanout.ResultTransient && job.RetryCount < job.MaxRetries:
		t.Status = models.JobStatusFailedRetryable
		t.RetryCount = job.RetryCount + 1
		t.NextEligibleAt = now.Add(RetryInterval(job.Channel))
		t.LastRetryAt = &now
		return decision{transition: t, ruleStatus: models.RuleStatusPending}
	}

	t.Status = models.JobStatusFailed
	return decision{transition: t, ruleStatus: models.RuleStatusFailed, record: true}
}
