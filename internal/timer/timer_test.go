package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArm_FiresCallback(t *testing.T) {
	a := New(time.Minute, zerolog.Nop())
	defer a.Stop()

	fired := make(chan string, 1)
	handle, err := a.Arm("r1", time.Now().Add(10*time.Millisecond), func(id string) {
		fired <- id
	})
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	select {
	case id := <-fired:
		assert.Equal(t, "r1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, 0, a.Armed())
}

func TestArm_PastWithinGraceFiresImmediately(t *testing.T) {
	a := New(time.Minute, zerolog.Nop())
	defer a.Stop()

	fired := make(chan string, 1)
	_, err := a.Arm("r1", time.Now().Add(-10*time.Second), func(id string) {
		fired <- id
	})
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("overdue timer within grace did not fire")
	}
}

func TestArm_PastBeyondGraceRejected(t *testing.T) {
	a := New(time.Minute, zerolog.Nop())
	defer a.Stop()

	_, err := a.Arm("r1", time.Now().Add(-2*time.Minute), func(string) {
		t.Error("abandoned timer must not fire")
	})
	require.Error(t, err)
	assert.Equal(t, 0, a.Armed())
}

func TestCancel_PreventsFire(t *testing.T) {
	a := New(time.Minute, zerolog.Nop())
	defer a.Stop()

	var mu sync.Mutex
	fired := false
	handle, err := a.Arm("r1", time.Now().Add(100*time.Millisecond), func(string) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	require.NoError(t, err)

	a.Cancel(handle)
	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
	assert.Equal(t, 0, a.Armed())
}

func TestCancel_IsIdempotent(t *testing.T) {
	a := New(time.Minute, zerolog.Nop())
	defer a.Stop()

	fired := make(chan struct{}, 1)
	handle, err := a.Arm("r1", time.Now().Add(10*time.Millisecond), func(string) {
		fired <- struct{}{}
	})
	require.NoError(t, err)

	<-fired

	// Cancelling after the fire, twice, and cancelling garbage: all no-ops.
	a.Cancel(handle)
	a.Cancel(handle)
	a.Cancel("no-such-handle")

	select {
	case <-fired:
		t.Fatal("cancel must never re-trigger a fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestArm_HandlesAreUnique(t *testing.T) {
	a := New(time.Minute, zerolog.Nop())
	defer a.Stop()

	h1, err := a.Arm("r1", time.Now().Add(time.Hour), func(string) {})
	require.NoError(t, err)
	h2, err := a.Arm("r1", time.Now().Add(time.Hour), func(string) {})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, a.Armed())
}

func TestStop_CancelsEverything(t *testing.T) {
	a := New(time.Minute, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := a.Arm("r", time.Now().Add(time.Hour), func(string) {})
		require.NoError(t, err)
	}
	require.Equal(t, 5, a.Armed())

	a.Stop()
	assert.Equal(t, 0, a.Armed())
}
