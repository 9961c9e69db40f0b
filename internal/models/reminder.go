package models

import (
	"time"

	"remindd/internal/apperr"
)

// Hard bounds on series expansion. A series never holds more than
// MaxOccurrences rows and never reaches past ExpansionHorizon from the
// moment of creation, regardless of the rule's own end condition.
const (
	MaxOccurrences   = 100
	ExpansionHorizon = 365 * 24 * time.Hour
)

type RuleType string

const (
	RuleNone    RuleType = "none"
	RuleHourly  RuleType = "hourly"
	RuleDaily   RuleType = "daily"
	RuleWeekly  RuleType = "weekly"
	RuleMonthly RuleType = "monthly"
	RuleYearly  RuleType = "yearly"
)

// EndCondition bounds a recurring series. At most one of the two fields is
// set; a zero EndCondition means the series runs until the hard bounds stop
// it.
type EndCondition struct {
	AfterOccurrences int        `json:"after_occurrences,omitempty"`
	OnDate           *time.Time `json:"on_date,omitempty"`
}

type RecurrenceRule struct {
	Type     RuleType     `json:"type"`
	Interval int          `json:"interval"`
	End      EndCondition `json:"end_condition"`
}

// IsRecurring reports whether the rule generates more than a single anchor.
func (r RecurrenceRule) IsRecurring() bool {
	return r.Type != "" && r.Type != RuleNone
}

func (r RecurrenceRule) Validate() error {
	switch r.Type {
	case "", RuleNone:
		return nil
	case RuleHourly, RuleDaily, RuleWeekly, RuleMonthly, RuleYearly:
	default:
		return apperr.Validationf("unknown recurrence type %q", r.Type)
	}
	if r.Interval < 1 {
		return apperr.Validationf("recurrence interval must be >= 1, got %d", r.Interval)
	}
	// Zero means unset; the hard bounds take over.
	if r.End.AfterOccurrences < 0 {
		return apperr.Validationf("after_occurrences must not be negative")
	}
	if r.End.AfterOccurrences > 0 && r.End.OnDate != nil {
		return apperr.Validationf("end condition may set after_occurrences or on_date, not both")
	}
	return nil
}

// Reminder is one concrete scheduled firing: a single row per occurrence.
// Recurring definitions are materialized eagerly, so a series is just a set
// of rows sharing SeriesID, ordered by OccurrenceNumber, with occurrence 1
// as the anchor every sibling points at through ParentID.
type Reminder struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	SubjectRef string `json:"subject_ref"`
	Title      string `json:"title"`
	Body       string `json:"body"`

	// FireAt is the single point of truth for when this occurrence should
	// trigger. Always UTC.
	FireAt time.Time `json:"fire_at"`

	// Triggered is monotonic: false to true exactly once, never reset.
	Triggered   bool       `json:"triggered"`
	TriggeredAt *time.Time `json:"triggered_at,omitempty"`

	// TimerHandle is the adapter handle for the currently armed timer, nil
	// when no timer is armed. Triggered implies nil.
	TimerHandle *string `json:"-"`

	Rule             RecurrenceRule `json:"recurrence_rule"`
	SeriesID         *string        `json:"series_id,omitempty"`
	OccurrenceNumber int            `json:"occurrence_number"`
	ParentID         *string        `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Reminder) IsRecurring() bool {
	return r.Rule.IsRecurring()
}

// IsAnchor reports whether this is occurrence 1 of its series.
func (r *Reminder) IsAnchor() bool {
	return r.SeriesID != nil && r.OccurrenceNumber == 1
}

// Endpoint is one registered notification destination for an owner. Token is
// opaque to the core; Platform selects the transport that interprets it.
type Endpoint struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	PlatformTelegram = "telegram"
	PlatformPush     = "push"
)

// DeliverySummary counts one trigger's fan-out. Advisory only: it never
// gates the triggered state.
type DeliverySummary struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}
