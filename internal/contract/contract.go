// Package contract defines the seams between the reminder core and its
// collaborators: the persistence layer, the timer layer, the endpoint
// registry, and the notification transports.
package contract

import (
	"context"
	"time"

	"remindd/internal/models"
)

// ReminderStore is the persistence boundary for occurrence rows.
//
// MarkTriggeredIfNotAlready is the linchpin of exactly-once delivery: it is
// an atomic compare-and-set on the triggered flag and must clear the timer
// handle in the same write, so a triggered row never keeps a dangling timer.
type ReminderStore interface {
	// CreateOccurrences inserts every row or none.
	CreateOccurrences(ctx context.Context, reminders []*models.Reminder) error
	GetByID(ctx context.Context, id string) (*models.Reminder, error)
	GetSeries(ctx context.Context, seriesID string) ([]*models.Reminder, error)
	GetByOwnerAndSubject(ctx context.Context, ownerID, subjectRef string) (*models.Reminder, error)
	ListByOwner(ctx context.Context, ownerID string, includeTriggered bool) ([]*models.Reminder, error)
	UpdateOccurrence(ctx context.Context, reminder *models.Reminder) error
	SetTimerHandle(ctx context.Context, id string, handle *string) error
	DeleteOccurrence(ctx context.Context, id string) (bool, error)
	DeleteSeries(ctx context.Context, seriesID string) (int64, error)
	DueNotTriggered(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	NotTriggeredAfter(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	MarkTriggeredIfNotAlready(ctx context.Context, id string, triggeredAt time.Time) (bool, error)
}

// EndpointRegistry tracks where an owner's notifications go.
type EndpointRegistry interface {
	Register(ctx context.Context, endpoint *models.Endpoint) error
	Remove(ctx context.Context, ownerID, deviceID string) (int64, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Endpoint, error)
}

// Transport delivers one notification to one endpoint. Fire-and-forget per
// endpoint: the core never retries a failed delivery.
type Transport interface {
	Deliver(ctx context.Context, endpoint *models.Endpoint, title, body string, metadata map[string]string) error
}

// TimerAdapter arms one timer per occurrence at an absolute wall-clock time.
//
// Cancel must be an idempotent no-op on a handle that already fired or never
// existed; cancellation races with fires are expected and both outcomes are
// correct because the fire path re-checks the triggered state.
type TimerAdapter interface {
	Arm(id string, fireAt time.Time, fire func(id string)) (handle string, err error)
	Cancel(handle string)
}

// Dispatcher performs the exactly-once trigger transition for one occurrence
// and fans the notification out to the owner's endpoints.
type Dispatcher interface {
	Trigger(ctx context.Context, id string) (models.DeliverySummary, error)
}
