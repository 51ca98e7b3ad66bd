package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ids/services/agent/internal/observability/metrics"
)

type RestartPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	// StableAfter resets the backoff once a run lasted at least this long.
	StableAfter time.Duration
}

// Supervisor keeps a source running, restarting it with exponential backoff
// whenever it returns before the context ends.
type Supervisor struct {
	src    Source
	policy RestartPolicy
	log    *slog.Logger
}

func Supervise(src Source, policy RestartPolicy, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{src: src, policy: policy, log: log.With("supervised", src.Name())}
}

func (s *Supervisor) Name() string { return s.src.Name() }

func (s *Supervisor) Run(ctx context.Context, out chan<- Observation) error {
	bo := backoff.NewExponentialBackOff()
	if s.policy.InitialInterval > 0 {
		bo.InitialInterval = s.policy.InitialInterval
	}
	if s.policy.MaxInterval > 0 {
		bo.MaxInterval = s.policy.MaxInterval
	}
	if s.policy.Multiplier >= 1 {
		bo.Multiplier = s.policy.Multiplier
	}
	if s.policy.Jitter >= 0 && s.policy.Jitter < 1 {
		bo.RandomizationFactor = s.policy.Jitter
	}
	bo.Reset()

	for {
		started := time.Now()
		err := s.src.Run(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if s.policy.StableAfter > 0 && time.Since(started) >= s.policy.StableAfter {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		s.log.Warn("source stopped, restarting", "error", err, "ran_for", time.Since(started), "restart_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		metrics.ProbeRestartsTotal.Inc()
	}
}
