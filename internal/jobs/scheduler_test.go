package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 5m0s", Every(5*time.Minute))
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	err := s.Add("broken", "not a spec", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := NewScheduler(zerolog.Nop())

	var ok, failed atomic.Int32
	require.NoError(t, s.Add("ok", Every(time.Second), func(context.Context) error {
		ok.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("failing", Every(time.Second), func(context.Context) error {
		failed.Add(1)
		return errors.New("boom")
	}))

	s.Start()
	assert.Eventually(t, func() bool { return ok.Load() > 0 && failed.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := NewScheduler(zerolog.Nop())

	started := make(chan struct{})
	var once atomic.Bool
	require.NoError(t, s.Add("long", Every(time.Second), func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
