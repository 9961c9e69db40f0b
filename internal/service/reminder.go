// Package service implements the reminder lifecycle: create with eager
// series materialization, single-or-series update and delete, bulk sync, and
// timer re-arming at startup.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"remindd/internal/apperr"
	"remindd/internal/contract"
	"remindd/internal/models"
	"remindd/internal/recurrence"
)

type ReminderService struct {
	store      contract.ReminderStore
	timers     contract.TimerAdapter
	dispatcher contract.Dispatcher
	log        zerolog.Logger

	now func() time.Time
}

func New(
	store contract.ReminderStore,
	timers contract.TimerAdapter,
	dispatcher contract.Dispatcher,
	log zerolog.Logger,
) *ReminderService {
	return &ReminderService{
		store:      store,
		timers:     timers,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput is one reminder definition as submitted by a client.
type CreateInput struct {
	OwnerID    string                `json:"-"`
	SubjectRef string                `json:"subject_ref"`
	Title      string                `json:"title"`
	Body       string                `json:"body"`
	FireAt     time.Time             `json:"fire_at"`
	Rule       models.RecurrenceRule `json:"recurrence_rule"`
}

// Create validates the definition, expands it into concrete occurrences,
// persists them all atomically, then arms a timer per occurrence. Arming is
// best effort: a row whose timer could not be armed stays untriggered and the
// reconciliation sweep picks it up.
func (s *ReminderService) Create(ctx context.Context, in CreateInput) ([]*models.Reminder, error) {
	if in.Title == "" {
		return nil, apperr.Validationf("title is required")
	}
	now := s.now()
	if !in.FireAt.After(now) {
		return nil, apperr.Validationf("fire_at must be in the future")
	}

	times, err := recurrence.Expand(in.FireAt, in.Rule, now.Add(models.ExpansionHorizon))
	if err != nil {
		return nil, err
	}

	rows := s.buildOccurrences(in, times, now)
	if err := s.store.CreateOccurrences(ctx, rows); err != nil {
		return nil, err
	}
	for _, r := range rows {
		s.armOccurrence(ctx, r)
	}

	s.log.Info().
		Str("owner_id", in.OwnerID).
		Str("reminder_id", rows[0].ID).
		Int("occurrences", len(rows)).
		Msg("reminder created")
	return rows, nil
}

func (s *ReminderService) buildOccurrences(in CreateInput, times []time.Time, now time.Time) []*models.Reminder {
	var seriesID *string
	if in.Rule.IsRecurring() {
		id := uuid.NewString()
		seriesID = &id
	}

	rows := make([]*models.Reminder, 0, len(times))
	var anchorID string
	for i, fireAt := range times {
		r := &models.Reminder{
			ID:               uuid.NewString(),
			OwnerID:          in.OwnerID,
			SubjectRef:       in.SubjectRef,
			Title:            in.Title,
			Body:             in.Body,
			FireAt:           fireAt,
			Rule:             in.Rule,
			SeriesID:         seriesID,
			OccurrenceNumber: i + 1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if i == 0 {
			anchorID = r.ID
		} else {
			parent := anchorID
			r.ParentID = &parent
		}
		rows = append(rows, r)
	}
	return rows
}

// armOccurrence arms a timer for one row and records the handle. Failures are
// logged, never returned: the row is already persisted and the sweep will
// trigger it if no timer ever fires.
func (s *ReminderService) armOccurrence(ctx context.Context, r *models.Reminder) {
	handle, err := s.timers.Arm(r.ID, r.FireAt, s.fire)
	if err != nil {
		s.log.Warn().Err(err).
			Str("reminder_id", r.ID).
			Time("fire_at", r.FireAt).
			Msg("failed to arm timer, leaving to sweep")
		return
	}
	if err := s.store.SetTimerHandle(ctx, r.ID, &handle); err != nil {
		s.log.Warn().Err(err).
			Str("reminder_id", r.ID).
			Msg("failed to record timer handle")
		return
	}
	h := handle
	r.TimerHandle = &h
}

// fire is the callback every armed timer runs.
func (s *ReminderService) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.dispatcher.Trigger(ctx, id); err != nil {
		s.log.Error().Err(err).Str("reminder_id", id).Msg("timer trigger failed")
	}
}

// UpdateInput carries the mutable fields; nil means leave unchanged.
type UpdateInput struct {
	Title  *string    `json:"title"`
	Body   *string    `json:"body"`
	FireAt *time.Time `json:"fire_at"`
}

// Update edits one occurrence, or, with applyToSeries, the occurrence and
// every later untriggered sibling. A fire_at change moves the target to the
// new time and shifts the later siblings by the same delta, preserving the
// series ordering; changing fire_at on a triggered occurrence is rejected.
func (s *ReminderService) Update(ctx context.Context, ownerID, id string, in UpdateInput, applyToSeries bool) ([]*models.Reminder, error) {
	target, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if in.FireAt != nil {
		if target.Triggered {
			return nil, apperr.Validationf("cannot reschedule a triggered occurrence")
		}
		if !in.FireAt.After(s.now()) {
			return nil, apperr.Validationf("fire_at must be in the future")
		}
	}

	affected := []*models.Reminder{target}
	var series []*models.Reminder
	if target.SeriesID != nil && (applyToSeries || in.FireAt != nil) {
		series, err = s.store.GetSeries(ctx, *target.SeriesID)
		if err != nil {
			return nil, err
		}
	}
	if applyToSeries && target.SeriesID != nil {
		affected = affected[:0]
		for _, sib := range series {
			if sib.OccurrenceNumber < target.OccurrenceNumber || sib.Triggered {
				continue
			}
			affected = append(affected, sib)
		}
	}

	var delta time.Duration
	if in.FireAt != nil {
		delta = in.FireAt.Sub(target.FireAt)
		if err := checkSeriesOrdering(series, affected, delta); err != nil {
			return nil, err
		}
	}

	for _, r := range affected {
		if in.Title != nil {
			r.Title = *in.Title
		}
		if in.Body != nil {
			r.Body = *in.Body
		}
		if in.FireAt != nil {
			r.FireAt = r.FireAt.Add(delta)
			if r.TimerHandle != nil {
				s.timers.Cancel(*r.TimerHandle)
			}
			r.TimerHandle = nil
		}
		if err := s.store.UpdateOccurrence(ctx, r); err != nil {
			return nil, err
		}
		if in.FireAt != nil && !r.Triggered {
			s.armOccurrence(ctx, r)
		}
	}

	s.log.Info().
		Str("owner_id", ownerID).
		Str("reminder_id", id).
		Bool("series", applyToSeries).
		Int("affected", len(affected)).
		Msg("reminder updated")
	return affected, nil
}

// checkSeriesOrdering verifies that moving the affected occurrences by delta
// keeps the series fire times strictly increasing with occurrence number.
// Rows not in the affected set (earlier siblings, triggered siblings) stay
// where they are, so the whole resulting sequence is checked, not just the
// target's neighbors.
func checkSeriesOrdering(series, affected []*models.Reminder, delta time.Duration) error {
	if len(series) == 0 {
		return nil
	}
	moved := make(map[string]bool, len(affected))
	for _, r := range affected {
		moved[r.ID] = true
	}
	var prev time.Time
	for i, r := range series {
		fireAt := r.FireAt
		if moved[r.ID] {
			fireAt = fireAt.Add(delta)
		}
		if i > 0 && !fireAt.After(prev) {
			return apperr.Validationf("fire_at change would break the series ordering")
		}
		prev = fireAt
	}
	return nil
}

// Delete removes one occurrence, or the whole series with applyToSeries,
// cancelling any live timers first. Deleting something already gone is a
// no-op reported through the zero count.
func (s *ReminderService) Delete(ctx context.Context, ownerID, id string, applyToSeries bool) (int64, error) {
	target, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	if applyToSeries && target.SeriesID != nil {
		siblings, err := s.store.GetSeries(ctx, *target.SeriesID)
		if err != nil {
			return 0, err
		}
		for _, sib := range siblings {
			if sib.TimerHandle != nil {
				s.timers.Cancel(*sib.TimerHandle)
			}
		}
		n, err := s.store.DeleteSeries(ctx, *target.SeriesID)
		if err != nil {
			return 0, err
		}
		s.log.Info().
			Str("owner_id", ownerID).
			Str("series_id", *target.SeriesID).
			Int64("deleted", n).
			Msg("series deleted")
		return n, nil
	}

	if target.TimerHandle != nil {
		s.timers.Cancel(*target.TimerHandle)
	}
	deleted, err := s.store.DeleteOccurrence(ctx, id)
	if err != nil {
		return 0, err
	}
	if !deleted {
		return 0, nil
	}
	s.log.Info().Str("owner_id", ownerID).Str("reminder_id", id).Msg("reminder deleted")
	return 1, nil
}

func (s *ReminderService) Get(ctx context.Context, ownerID, id string) (*models.Reminder, error) {
	return s.getOwned(ctx, ownerID, id)
}

func (s *ReminderService) List(ctx context.Context, ownerID string, includeTriggered bool) ([]*models.Reminder, error) {
	return s.store.ListByOwner(ctx, ownerID, includeTriggered)
}

// getOwned loads an occurrence and hides rows owned by someone else behind
// the same not-found as rows that do not exist.
func (s *ReminderService) getOwned(ctx context.Context, ownerID, id string) (*models.Reminder, error) {
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.OwnerID != ownerID {
		return nil, apperr.ErrNotFound
	}
	return r, nil
}

// SyncItem is one entry of a bulk client sync, keyed by subject_ref.
type SyncItem struct {
	SubjectRef string    `json:"subject_ref"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	FireAt     time.Time `json:"fire_at"`
}

type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// Sync reconciles a batch of non-recurring reminders against the store,
// upserting by (owner, subject_ref). Items whose pending occurrence already
// exists are updated in place; the rest are created. A past fire_at is
// accepted here: the occurrence fires immediately or is swept.
func (s *ReminderService) Sync(ctx context.Context, ownerID string, items []SyncItem) (SyncResult, error) {
	result := SyncResult{Total: len(items)}
	now := s.now()
	for _, item := range items {
		if item.SubjectRef == "" || item.Title == "" {
			return SyncResult{}, apperr.Validationf("sync items need subject_ref and title")
		}
		existing, err := s.store.GetByOwnerAndSubject(ctx, ownerID, item.SubjectRef)
		switch {
		case err == nil && !existing.Triggered:
			if existing.TimerHandle != nil {
				s.timers.Cancel(*existing.TimerHandle)
			}
			existing.Title = item.Title
			existing.Body = item.Body
			existing.FireAt = item.FireAt.Truncate(time.Second).UTC()
			existing.TimerHandle = nil
			if err := s.store.UpdateOccurrence(ctx, existing); err != nil {
				return SyncResult{}, err
			}
			s.armOccurrence(ctx, existing)
			result.Updated++
		case err == nil || errors.Is(err, apperr.ErrNotFound):
			// No pending occurrence for this subject; a triggered one stays
			// as history and a fresh occurrence is created next to it.
			rows := s.buildOccurrences(CreateInput{
				OwnerID:    ownerID,
				SubjectRef: item.SubjectRef,
				Title:      item.Title,
				Body:       item.Body,
			}, []time.Time{item.FireAt.Truncate(time.Second).UTC()}, now)
			if err := s.store.CreateOccurrences(ctx, rows); err != nil {
				return SyncResult{}, err
			}
			s.armOccurrence(ctx, rows[0])
			result.Created++
		default:
			return SyncResult{}, err
		}
	}
	s.log.Info().
		Str("owner_id", ownerID).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("total", result.Total).
		Msg("reminders synced")
	return result, nil
}

// RearmTimers arms a timer for every future untriggered occurrence. Called
// once at startup; rows already due are left to the sweep's first pass.
func (s *ReminderService) RearmTimers(ctx context.Context) (int, error) {
	rows, err := s.store.NotTriggeredAfter(ctx, s.now())
	if err != nil {
		return 0, err
	}
	armed := 0
	for _, r := range rows {
		s.armOccurrence(ctx, r)
		if r.TimerHandle != nil {
			armed++
		}
	}
	s.log.Info().Int("armed", armed).Int("pending", len(rows)).Msg("timers re-armed")
	return armed, nil
}
