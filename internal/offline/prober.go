package offline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ConnectivitySink is satisfied by *Queue.
type ConnectivitySink interface {
	SetConnected(connected bool)
}

// Prober checks API reachability and reports it to the queue. It is meant to
// be driven by a scheduler.
type Prober struct {
	check   func(ctx context.Context) error
	sink    ConnectivitySink
	timeout time.Duration
	log     zerolog.Logger
}

func NewProber(check func(ctx context.Context) error, sink ConnectivitySink, timeout time.Duration, log zerolog.Logger) *Prober {
	return &Prober{
		check:   check,
		sink:    sink,
		timeout: timeout,
		log:     log.With().Str("component", "prober").Logger(),
	}
}

// Probe runs one check. An unreachable API is a state, not a failure, so the
// returned error is always nil.
func (p *Prober) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	if err != nil {
		p.log.Debug().Err(err).Msg("api unreachable")
	}
	p.sink.SetConnected(err == nil)
	return nil
}
