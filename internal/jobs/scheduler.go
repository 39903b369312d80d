package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of periodic work. The context is cancelled when the
// scheduler stops.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	cronLog := log.With().Str("component", "cron").Logger()
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(&cronLog)),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   c,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every returns a cron spec firing at a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Add registers job under spec. Runs never overlap; a tick that arrives while
// the previous run is still going is skipped.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		if err := job(s.ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("took", time.Since(started)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
