// Package dispatch performs the trigger transition for an occurrence and
// fans the notification out to the owner's endpoints.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"remindd/internal/apperr"
	"remindd/internal/contract"
	"remindd/internal/models"
)

// Dispatcher is invoked by fired timers, by the reconciliation sweep, and by
// the trigger-now API, possibly concurrently for the same occurrence. The
// store's compare-and-set is the only mutual exclusion it relies on.
type Dispatcher struct {
	store     contract.ReminderStore
	endpoints contract.EndpointRegistry
	transport contract.Transport
	timers    contract.TimerAdapter
	log       zerolog.Logger
}

func New(
	store contract.ReminderStore,
	endpoints contract.EndpointRegistry,
	transport contract.Transport,
	timers contract.TimerAdapter,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:     store,
		endpoints: endpoints,
		transport: transport,
		timers:    timers,
		log:       log.With().Str("component", "dispatch").Logger(),
	}
}

// Trigger moves one occurrence to triggered and attempts delivery to every
// endpoint of its owner, each endpoint independently and at most once.
//
// A missing occurrence, an already-triggered occurrence, and a lost
// compare-and-set race are all success-no-ops: somebody else owns or owned
// the trigger. Delivery failures are logged per endpoint and never escalate;
// the returned summary is advisory.
func (d *Dispatcher) Trigger(ctx context.Context, id string) (models.DeliverySummary, error) {
	reminder, err := d.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			d.log.Debug().Str("reminder_id", id).Msg("trigger for missing reminder, skipping")
			return models.DeliverySummary{}, nil
		}
		return models.DeliverySummary{}, err
	}
	if reminder.Triggered {
		return models.DeliverySummary{}, nil
	}

	won, err := d.store.MarkTriggeredIfNotAlready(ctx, id, time.Now().UTC())
	if err != nil {
		return models.DeliverySummary{}, err
	}
	if !won {
		// Another timer or sweep pass got here first; apperr.ErrRaceLost is
		// the name of this outcome, not an error anyone returns.
		d.log.Debug().Str("reminder_id", id).Msg("lost trigger race, skipping")
		return models.DeliverySummary{}, nil
	}

	if reminder.TimerHandle != nil {
		d.timers.Cancel(*reminder.TimerHandle)
	}

	summary := d.fanOut(ctx, reminder)
	d.log.Info().
		Str("reminder_id", reminder.ID).
		Str("owner_id", reminder.OwnerID).
		Int("attempted", summary.Attempted).
		Int("delivered", summary.Delivered).
		Int("failed", summary.Failed).
		Msg("reminder triggered")
	return summary, nil
}

func (d *Dispatcher) fanOut(ctx context.Context, reminder *models.Reminder) models.DeliverySummary {
	endpoints, err := d.endpoints.ListByOwner(ctx, reminder.OwnerID)
	if err != nil {
		// The triggered transition already happened and is never rolled
		// back; an unreadable registry just means nothing gets delivered.
		d.log.Error().Err(err).
			Str("reminder_id", reminder.ID).
			Str("owner_id", reminder.OwnerID).
			Msg("failed to list endpoints")
		return models.DeliverySummary{}
	}
	if len(endpoints) == 0 {
		d.log.Info().
			Str("reminder_id", reminder.ID).
			Str("owner_id", reminder.OwnerID).
			Msg("no endpoints registered, nothing to deliver")
		return models.DeliverySummary{}
	}

	metadata := map[string]string{
		"type":        "reminder",
		"reminder_id": reminder.ID,
		"subject_ref": reminder.SubjectRef,
		"action":      "open_subject",
	}

	var delivered, failed atomic.Int64
	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(e *models.Endpoint) {
			defer wg.Done()
			if err := d.transport.Deliver(ctx, e, reminder.Title, reminder.Body, metadata); err != nil {
				failed.Add(1)
				d.log.Error().Err(err).
					Str("reminder_id", reminder.ID).
					Str("device_id", e.DeviceID).
					Str("platform", e.Platform).
					Msg("delivery failed")
				return
			}
			delivered.Add(1)
		}(endpoint)
	}
	wg.Wait()

	return models.DeliverySummary{
		Attempted: len(endpoints),
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
	}
}
