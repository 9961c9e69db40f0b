// Package testutil provides in-memory fakes for the contract interfaces so
// the lifecycle, dispatch and sweep packages can be tested without Postgres
// or live timers.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindd/internal/apperr"
	"remindd/internal/models"
)

// FakeStore is a mutex-guarded in-memory ReminderStore. Its
// MarkTriggeredIfNotAlready has the same winner-takes-it-once semantics as
// the SQL compare-and-set.
type FakeStore struct {
	mu        sync.Mutex
	Reminders map[string]*models.Reminder

	GetErr  error
	MarkErr error
	DueErr  error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{Reminders: make(map[string]*models.Reminder)}
}

func cloneReminder(r *models.Reminder) *models.Reminder {
	cp := *r
	if r.TriggeredAt != nil {
		at := *r.TriggeredAt
		cp.TriggeredAt = &at
	}
	if r.TimerHandle != nil {
		h := *r.TimerHandle
		cp.TimerHandle = &h
	}
	if r.SeriesID != nil {
		s := *r.SeriesID
		cp.SeriesID = &s
	}
	if r.ParentID != nil {
		p := *r.ParentID
		cp.ParentID = &p
	}
	return &cp
}

func (s *FakeStore) Put(r *models.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reminders[r.ID] = cloneReminder(r)
}

func (s *FakeStore) CreateOccurrences(ctx context.Context, reminders []*models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reminders {
		if _, exists := s.Reminders[r.ID]; exists {
			return fmt.Errorf("duplicate id %s", r.ID)
		}
	}
	for _, r := range reminders {
		s.Reminders[r.ID] = cloneReminder(r)
	}
	return nil
}

func (s *FakeStore) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	r, ok := s.Reminders[id]
	if !ok {
		return nil, fmt.Errorf("reminder %s: %w", id, apperr.ErrNotFound)
	}
	return cloneReminder(r), nil
}

func (s *FakeStore) GetSeries(ctx context.Context, seriesID string) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, r := range s.Reminders {
		if r.SeriesID != nil && *r.SeriesID == seriesID {
			out = append(out, cloneReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurrenceNumber < out[j].OccurrenceNumber })
	return out, nil
}

func (s *FakeStore) GetByOwnerAndSubject(ctx context.Context, ownerID, subjectRef string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*models.Reminder
	for _, r := range s.Reminders {
		if r.OwnerID == ownerID && r.SubjectRef == subjectRef && r.SeriesID == nil {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("reminder for subject %s: %w", subjectRef, apperr.ErrNotFound)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	return cloneReminder(candidates[0]), nil
}

func (s *FakeStore) ListByOwner(ctx context.Context, ownerID string, includeTriggered bool) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, r := range s.Reminders {
		if r.OwnerID != ownerID {
			continue
		}
		if !includeTriggered && r.Triggered {
			continue
		}
		out = append(out, cloneReminder(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *FakeStore) UpdateOccurrence(ctx context.Context, reminder *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.Reminders[reminder.ID]
	if !ok {
		return fmt.Errorf("reminder %s: %w", reminder.ID, apperr.ErrNotFound)
	}
	existing.Title = reminder.Title
	existing.Body = reminder.Body
	existing.FireAt = reminder.FireAt
	existing.TimerHandle = reminder.TimerHandle
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// SetTimerHandle skips triggered rows, like the SQL it stands in for.
func (s *FakeStore) SetTimerHandle(ctx context.Context, id string, handle *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.Reminders[id]; ok && !r.Triggered {
		r.TimerHandle = handle
	}
	return nil
}

func (s *FakeStore) DeleteOccurrence(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Reminders[id]; !ok {
		return false, nil
	}
	delete(s.Reminders, id)
	return true, nil
}

func (s *FakeStore) DeleteSeries(ctx context.Context, seriesID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.Reminders {
		if r.SeriesID != nil && *r.SeriesID == seriesID {
			delete(s.Reminders, id)
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) DueNotTriggered(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DueErr != nil {
		return nil, s.DueErr
	}
	var out []*models.Reminder
	for _, r := range s.Reminders {
		if !r.Triggered && !r.FireAt.After(now) {
			out = append(out, cloneReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *FakeStore) NotTriggeredAfter(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, r := range s.Reminders {
		if !r.Triggered && r.FireAt.After(now) {
			out = append(out, cloneReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *FakeStore) MarkTriggeredIfNotAlready(ctx context.Context, id string, triggeredAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return false, s.MarkErr
	}
	r, ok := s.Reminders[id]
	if !ok || r.Triggered {
		return false, nil
	}
	r.Triggered = true
	at := triggeredAt
	r.TriggeredAt = &at
	r.TimerHandle = nil
	return true, nil
}

// Get returns the stored row (a clone) for assertions.
func (s *FakeStore) Get(id string) *models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.Reminders[id]
	if !ok {
		return nil
	}
	return cloneReminder(r)
}

// FakeRegistry is an in-memory EndpointRegistry.
type FakeRegistry struct {
	mu        sync.Mutex
	Endpoints map[string][]*models.Endpoint
	ListErr   error
}

func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{Endpoints: make(map[string][]*models.Endpoint)}
}

func (f *FakeRegistry) Register(ctx context.Context, endpoint *models.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.Endpoints[endpoint.OwnerID] {
		if e.DeviceID == endpoint.DeviceID {
			f.Endpoints[endpoint.OwnerID][i] = endpoint
			return nil
		}
	}
	f.Endpoints[endpoint.OwnerID] = append(f.Endpoints[endpoint.OwnerID], endpoint)
	return nil
}

func (f *FakeRegistry) Remove(ctx context.Context, ownerID, deviceID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.Endpoints[ownerID]
	for i, e := range list {
		if e.DeviceID == deviceID {
			f.Endpoints[ownerID] = append(list[:i], list[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *FakeRegistry) ListByOwner(ctx context.Context, ownerID string) ([]*models.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]*models.Endpoint(nil), f.Endpoints[ownerID]...), nil
}

// Delivery records one FakeTransport attempt.
type Delivery struct {
	Token string
	Title string
	Body  string
}

// FakeTransport records deliveries and fails those whose token is marked.
type FakeTransport struct {
	mu         sync.Mutex
	Deliveries []Delivery
	FailTokens map[string]bool
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{FailTokens: make(map[string]bool)}
}

func (f *FakeTransport) Deliver(ctx context.Context, endpoint *models.Endpoint, title, body string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTokens[endpoint.Token] {
		return fmt.Errorf("delivery to %s refused", endpoint.Token)
	}
	f.Deliveries = append(f.Deliveries, Delivery{Token: endpoint.Token, Title: title, Body: body})
	return nil
}

func (f *FakeTransport) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Deliveries)
}

// ArmedTimer is one FakeTimers entry.
type ArmedTimer struct {
	ID     string
	FireAt time.Time
	Fire   func(id string)
}

// FakeTimers records Arm and Cancel calls and lets tests fire callbacks by
// hand. With FireOnArm set, Arm runs the callback before returning, which
// reproduces a due-now timer firing ahead of the caller's bookkeeping.
type FakeTimers struct {
	mu        sync.Mutex
	seq       int
	Armed     map[string]ArmedTimer
	Cancelled []string
	ArmErr    error
	FireOnArm bool
}

func NewFakeTimers() *FakeTimers {
	return &FakeTimers{Armed: make(map[string]ArmedTimer)}
}

func (f *FakeTimers) Arm(id string, fireAt time.Time, fire func(id string)) (string, error) {
	f.mu.Lock()
	if f.ArmErr != nil {
		f.mu.Unlock()
		return "", f.ArmErr
	}
	f.seq++
	handle := fmt.Sprintf("%s#%d", id, f.seq)
	fireNow := f.FireOnArm
	if !fireNow {
		f.Armed[handle] = ArmedTimer{ID: id, FireAt: fireAt, Fire: fire}
	}
	f.mu.Unlock()
	if fireNow {
		fire(id)
	}
	return handle, nil
}

func (f *FakeTimers) Cancel(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Armed, handle)
	f.Cancelled = append(f.Cancelled, handle)
}

// FireAll invokes every armed callback, as if all timers elapsed at once.
func (f *FakeTimers) FireAll() {
	f.mu.Lock()
	armed := make([]ArmedTimer, 0, len(f.Armed))
	for handle, t := range f.Armed {
		armed = append(armed, t)
		delete(f.Armed, handle)
	}
	f.mu.Unlock()
	for _, t := range armed {
		t.Fire(t.ID)
	}
}

func (f *FakeTimers) ArmedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Armed)
}

// HandleFor returns the armed handle for an occurrence id, or "".
func (f *FakeTimers) HandleFor(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for handle, t := range f.Armed {
		if t.ID == id {
			return handle
		}
	}
	return ""
}
