package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/models"
	"remindd/internal/testutil"
)

type fixture struct {
	store     *testutil.FakeStore
	registry  *testutil.FakeRegistry
	transport *testutil.FakeTransport
	timers    *testutil.FakeTimers
	d         *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     testutil.NewFakeStore(),
		registry:  testutil.NewFakeRegistry(),
		transport: testutil.NewFakeTransport(),
		timers:    testutil.NewFakeTimers(),
	}
	f.d = New(f.store, f.registry, f.transport, f.timers, zerolog.Nop())
	return f
}

func pendingReminder(id, owner string) *models.Reminder {
	return &models.Reminder{
		ID:               id,
		OwnerID:          owner,
		SubjectRef:       "note-1",
		Title:            "water the plants",
		Body:             "the ficus first",
		FireAt:           time.Now().UTC().Add(-time.Minute),
		OccurrenceNumber: 1,
	}
}

func registerEndpoints(f *fixture, owner string, tokens ...string) {
	for _, token := range tokens {
		f.registry.Register(context.Background(), &models.Endpoint{
			OwnerID:  owner,
			DeviceID: token + "-device",
			Token:    token,
			Platform: models.PlatformPush,
		})
	}
}

func TestTrigger_DeliversToEveryEndpoint(t *testing.T) {
	f := newFixture(t)
	f.store.Put(pendingReminder("r1", "owner-1"))
	registerEndpoints(f, "owner-1", "tok-a", "tok-b", "tok-c")

	summary, err := f.d.Trigger(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, models.DeliverySummary{Attempted: 3, Delivered: 3, Failed: 0}, summary)
	assert.Equal(t, 3, f.transport.Count())

	row := f.store.Get("r1")
	require.NotNil(t, row)
	assert.True(t, row.Triggered)
	require.NotNil(t, row.TriggeredAt)
	assert.Nil(t, row.TimerHandle)
}

func TestTrigger_OneEndpointFailingDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.store.Put(pendingReminder("r1", "owner-1"))
	registerEndpoints(f, "owner-1", "tok-a", "tok-b")
	f.transport.FailTokens["tok-a"] = true

	summary, err := f.d.Trigger(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, models.DeliverySummary{Attempted: 2, Delivered: 1, Failed: 1}, summary)
	assert.True(t, f.store.Get("r1").Triggered, "delivery failure never blocks the triggered state")
}

func TestTrigger_MissingReminderIsNoOp(t *testing.T) {
	f := newFixture(t)

	summary, err := f.d.Trigger(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, summary)
	assert.Equal(t, 0, f.transport.Count())
}

func TestTrigger_AlreadyTriggeredIsNoOp(t *testing.T) {
	f := newFixture(t)
	r := pendingReminder("r1", "owner-1")
	at := time.Now().UTC().Add(-time.Hour)
	r.Triggered = true
	r.TriggeredAt = &at
	f.store.Put(r)
	registerEndpoints(f, "owner-1", "tok-a")

	summary, err := f.d.Trigger(context.Background(), "r1")
	require.NoError(t, err)
	assert.Zero(t, summary)
	assert.Equal(t, 0, f.transport.Count())

	// The original triggered_at is untouched.
	assert.Equal(t, at, *f.store.Get("r1").TriggeredAt)
}

func TestTrigger_NoEndpointsStillMarksTriggered(t *testing.T) {
	f := newFixture(t)
	f.store.Put(pendingReminder("r1", "owner-1"))

	summary, err := f.d.Trigger(context.Background(), "r1")
	require.NoError(t, err)
	assert.Zero(t, summary)
	assert.True(t, f.store.Get("r1").Triggered)
}

func TestTrigger_CancelsArmedTimerHandle(t *testing.T) {
	f := newFixture(t)
	r := pendingReminder("r1", "owner-1")
	handle := "r1#7"
	r.TimerHandle = &handle
	f.store.Put(r)

	_, err := f.d.Trigger(context.Background(), "r1")
	require.NoError(t, err)
	assert.Contains(t, f.timers.Cancelled, handle)
}

func TestTrigger_ConcurrentInvocationsDeliverExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.store.Put(pendingReminder("r1", "owner-1"))
	registerEndpoints(f, "owner-1", "tok-a", "tok-b")

	const callers = 16
	var wg sync.WaitGroup
	summaries := make([]models.DeliverySummary, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.d.Trigger(context.Background(), "r1")
			assert.NoError(t, err)
			summaries[i] = s
		}(i)
	}
	wg.Wait()

	// Exactly one caller won the compare-and-set and fanned out.
	winners := 0
	for _, s := range summaries {
		if s.Attempted > 0 {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 2, f.transport.Count())

	row := f.store.Get("r1")
	assert.True(t, row.Triggered)
	require.NotNil(t, row.TriggeredAt)
}

func TestTrigger_LateTimerHandleWriteIsDropped(t *testing.T) {
	f := newFixture(t)
	f.store.Put(pendingReminder("r1", "owner-1"))

	_, err := f.d.Trigger(context.Background(), "r1")
	require.NoError(t, err)

	// A handle write racing in after the trigger cleared the column must
	// not re-attach one.
	handle := "r1#9"
	require.NoError(t, f.store.SetTimerHandle(context.Background(), "r1", &handle))
	assert.Nil(t, f.store.Get("r1").TimerHandle)
}

func TestTrigger_RegistryErrorDoesNotUndoTrigger(t *testing.T) {
	f := newFixture(t)
	f.store.Put(pendingReminder("r1", "owner-1"))
	f.registry.ListErr = assert.AnError

	summary, err := f.d.Trigger(context.Background(), "r1")
	require.NoError(t, err)
	assert.Zero(t, summary)
	assert.True(t, f.store.Get("r1").Triggered)
}
