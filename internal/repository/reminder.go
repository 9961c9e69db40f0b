package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"remindd/internal/apperr"
	"remindd/internal/database"
	"remindd/internal/models"
)

const reminderColumns = `id, owner_id, subject_ref, title, body, fire_at, triggered, triggered_at,
	 timer_handle, rule_type, rule_interval, rule_end_count, rule_end_date,
	 series_id, occurrence_number, parent_id, created_at, updated_at`

type ReminderRepository struct {
	db *database.DB
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	r := &models.Reminder{}
	var ruleType string
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.SubjectRef, &r.Title, &r.Body, &r.FireAt, &r.Triggered, &r.TriggeredAt,
		&r.TimerHandle, &ruleType, &r.Rule.Interval, &r.Rule.End.AfterOccurrences, &r.Rule.End.OnDate,
		&r.SeriesID, &r.OccurrenceNumber, &r.ParentID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Rule.Type = models.RuleType(ruleType)
	r.FireAt = r.FireAt.UTC()
	return r, nil
}

func collectReminders(rows pgx.Rows) ([]*models.Reminder, error) {
	defer rows.Close()
	var reminders []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// CreateOccurrences inserts all rows in one transaction: a series is never
// partially materialized.
func (repo *ReminderRepository) CreateOccurrences(ctx context.Context, reminders []*models.Reminder) error {
	if len(reminders) == 0 {
		return nil
	}

	tx, err := repo.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range reminders {
		batch.Queue(
			`INSERT INTO reminders (id, owner_id, subject_ref, title, body, fire_at, triggered,
			  timer_handle, rule_type, rule_interval, rule_end_count, rule_end_date,
			  series_id, occurrence_number, parent_id)
			 VALUES ($1, $2, $3, $4, $5, $6, false, NULL, $7, $8, $9, $10, $11, $12, $13)`,
			r.ID, r.OwnerID, r.SubjectRef, r.Title, r.Body, r.FireAt,
			string(r.Rule.Type), r.Rule.Interval, r.Rule.End.AfterOccurrences, r.Rule.End.OnDate,
			r.SeriesID, r.OccurrenceNumber, r.ParentID,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert occurrences: %w", err)
	}
	return tx.Commit(ctx)
}

func (repo *ReminderRepository) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	row := repo.db.Pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reminder %s: %w", id, apperr.ErrNotFound)
	}
	return r, err
}

func (repo *ReminderRepository) GetSeries(ctx context.Context, seriesID string) ([]*models.Reminder, error) {
	rows, err := repo.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE series_id = $1 ORDER BY occurrence_number ASC`,
		seriesID,
	)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

// GetByOwnerAndSubject finds the owner's non-recurring reminder for one
// subject, used by bulk sync to upsert by subject reference.
func (repo *ReminderRepository) GetByOwnerAndSubject(ctx context.Context, ownerID, subjectRef string) (*models.Reminder, error) {
	row := repo.db.Pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE owner_id = $1 AND subject_ref = $2 AND series_id IS NULL
		 ORDER BY created_at ASC LIMIT 1`,
		ownerID, subjectRef,
	)
	r, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reminder for subject %s: %w", subjectRef, apperr.ErrNotFound)
	}
	return r, err
}

func (repo *ReminderRepository) ListByOwner(ctx context.Context, ownerID string, includeTriggered bool) ([]*models.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE owner_id = $1`
	if !includeTriggered {
		query += ` AND triggered = false`
	}
	query += ` ORDER BY fire_at ASC`

	rows, err := repo.db.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

func (repo *ReminderRepository) UpdateOccurrence(ctx context.Context, reminder *models.Reminder) error {
	tag, err := repo.db.Pool.Exec(ctx,
		`UPDATE reminders
		 SET title = $1, body = $2, fire_at = $3, timer_handle = $4, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $5`,
		reminder.Title, reminder.Body, reminder.FireAt, reminder.TimerHandle, reminder.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminder %s: %w", reminder.ID, apperr.ErrNotFound)
	}
	return nil
}

// SetTimerHandle records the armed timer handle for a pending occurrence.
// Triggered rows are skipped: a timer armed for a due-now occurrence can fire
// and complete the triggered transition before this write lands, and the
// late write must not re-attach a handle the transition already cleared.
func (repo *ReminderRepository) SetTimerHandle(ctx context.Context, id string, handle *string) error {
	_, err := repo.db.Pool.Exec(ctx,
		`UPDATE reminders SET timer_handle = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2 AND triggered = false`,
		handle, id,
	)
	return err
}

func (repo *ReminderRepository) DeleteOccurrence(ctx context.Context, id string) (bool, error) {
	tag, err := repo.db.Pool.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (repo *ReminderRepository) DeleteSeries(ctx context.Context, seriesID string) (int64, error) {
	tag, err := repo.db.Pool.Exec(ctx, `DELETE FROM reminders WHERE series_id = $1`, seriesID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DueNotTriggered returns every occurrence whose fire time has passed and
// whose trigger has not happened, the sweeper's work queue.
func (repo *ReminderRepository) DueNotTriggered(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := repo.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE triggered = false AND fire_at <= $1
		 ORDER BY fire_at ASC`,
		now,
	)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

// NotTriggeredAfter returns future pending occurrences, used to re-arm
// timers after a restart.
func (repo *ReminderRepository) NotTriggeredAfter(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := repo.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE triggered = false AND fire_at > $1
		 ORDER BY fire_at ASC`,
		now,
	)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

// MarkTriggeredIfNotAlready is the compare-and-set that makes delivery
// exactly-once: only one caller ever sees true for a given occurrence. The
// timer handle is cleared in the same write so a triggered row never keeps
// one.
func (repo *ReminderRepository) MarkTriggeredIfNotAlready(ctx context.Context, id string, triggeredAt time.Time) (bool, error) {
	tag, err := repo.db.Pool.Exec(ctx,
		`UPDATE reminders
		 SET triggered = true, triggered_at = $1, timer_handle = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2 AND triggered = false`,
		triggeredAt, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
