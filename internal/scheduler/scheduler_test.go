package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"remindd/internal/dispatch"
	"remindd/internal/models"
	"remindd/internal/testutil"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	Triggered []string
}

func (d *recordingDispatcher) Trigger(ctx context.Context, id string) (models.DeliverySummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Triggered = append(d.Triggered, id)
	return models.DeliverySummary{}, nil
}

func TestSweep_DispatchesOnlyDueUntriggered(t *testing.T) {
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	at := now.Add(-time.Hour)
	store.Put(&models.Reminder{ID: "due", OwnerID: "o", FireAt: now.Add(-10 * time.Minute)})
	store.Put(&models.Reminder{ID: "future", OwnerID: "o", FireAt: now.Add(time.Hour)})
	store.Put(&models.Reminder{ID: "done", OwnerID: "o", FireAt: now.Add(-time.Hour), Triggered: true, TriggeredAt: &at})

	d := &recordingDispatcher{}
	s := New(store, d, time.Minute, zerolog.Nop())

	s.Sweep(context.Background())
	assert.Equal(t, []string{"due"}, d.Triggered)
}

func TestSweep_QueryErrorSkipsPass(t *testing.T) {
	store := testutil.NewFakeStore()
	store.Put(&models.Reminder{ID: "due", OwnerID: "o", FireAt: time.Now().UTC().Add(-time.Minute)})
	store.DueErr = assert.AnError

	d := &recordingDispatcher{}
	s := New(store, d, time.Minute, zerolog.Nop())
	s.Sweep(context.Background())
	assert.Empty(t, d.Triggered)
}

// A sweep racing a concurrently firing timer must still deliver exactly once;
// the store's compare-and-set decides the winner.
func TestSweep_RacingTimerFireDeliversOnce(t *testing.T) {
	store := testutil.NewFakeStore()
	registry := testutil.NewFakeRegistry()
	transport := testutil.NewFakeTransport()
	timers := testutil.NewFakeTimers()

	registry.Register(context.Background(), &models.Endpoint{
		OwnerID: "o", DeviceID: "d1", Token: "tok", Platform: models.PlatformPush,
	})
	store.Put(&models.Reminder{ID: "r1", OwnerID: "o", Title: "t", FireAt: time.Now().UTC().Add(-time.Minute)})

	d := dispatch.New(store, registry, transport, timers, zerolog.Nop())
	s := New(store, d, time.Minute, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Sweep(context.Background())
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The timer path calls the dispatcher directly.
			_, err := d.Trigger(context.Background(), "r1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transport.Count())
	assert.True(t, store.Get("r1").Triggered)
}

func TestNotify_IsNonBlocking(t *testing.T) {
	s := New(testutil.NewFakeStore(), &recordingDispatcher{}, time.Minute, zerolog.Nop())
	// A second Notify with one already pending must not block.
	s.Notify()
	s.Notify()
}
