// Package pipeline wires the agent together: capture sources feed the
// normalizer, every accepted event is logged locally and queued, and a single
// delivery worker drains the queue to the hub.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ids/internal/envelope"
	"ids/internal/event"
	"ids/internal/httpx"
	"ids/services/agent/internal/capture"
	"ids/services/agent/internal/config"
	"ids/services/agent/internal/delivery"
	"ids/services/agent/internal/eventlog"
	"ids/services/agent/internal/hubclient"
	"ids/services/agent/internal/normalize"
	"ids/services/agent/internal/observability/metrics"
	"ids/services/agent/internal/queue"
)

var ErrNotRegistered = errors.New("pipeline: device has no api_key, run register first")

type Agent struct {
	cfg     config.Config
	log     *slog.Logger
	key     []byte
	codec   *envelope.Codec
	sender  delivery.Sender
	sources []capture.Source
	custom  bool
	norm    *normalize.Normalizer
}

type Option func(*Agent)

// WithSources replaces the sources derived from the configuration.
func WithSources(src ...capture.Source) Option {
	return func(a *Agent) {
		a.sources = src
		a.custom = true
	}
}

func WithSender(s delivery.Sender) Option {
	return func(a *Agent) { a.sender = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// New builds an agent from cfg. cfg is copied and never re-read.
func New(cfg config.Config, opts ...Option) (*Agent, error) {
	if !cfg.Registered() {
		return nil, ErrNotRegistered
	}
	key, err := envelope.ParseKey(cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("api_key: %w", err)
	}
	codec, err := envelope.New(envelope.Suite(cfg.Cipher))
	if err != nil {
		return nil, err
	}

	a := &Agent{cfg: cfg, key: key, codec: codec, log: slog.Default(), norm: normalize.New(cfg.DeviceID)}
	for _, opt := range opts {
		opt(a)
	}
	if a.sender == nil {
		a.sender = hubclient.New(cfg.HubURL, cfg.Delivery.Timeout, cfg.InternalToken)
	}
	if !a.custom {
		a.sources = sourcesFromConfig(cfg, a.log)
	}
	return a, nil
}

func sourcesFromConfig(cfg config.Config, log *slog.Logger) []capture.Source {
	var out []capture.Source
	if cfg.FileMonitor.Enabled {
		for _, root := range cfg.FileMonitor.Paths {
			out = append(out, capture.NewFileWatcher(root, log))
		}
	}
	if cfg.NetworkMonitor.Enabled {
		r := cfg.NetworkMonitor.Restart
		out = append(out, capture.Supervise(capture.NewProbe(cfg.NetworkMonitor.Command, log), capture.RestartPolicy{
			InitialInterval: r.Initial,
			MaxInterval:     r.Max,
			Multiplier:      r.Multiplier,
			Jitter:          r.Jitter,
			StableAfter:     cfg.NetworkMonitor.StableAfter,
		}, log))
	}
	return out
}

// Run blocks until ctx ends and every task has returned.
func (a *Agent) Run(ctx context.Context) error {
	elog, err := eventlog.Open(a.cfg.LogDir)
	if err != nil {
		return err
	}
	defer elog.Close()

	q := queue.New(a.cfg.Queue.Capacity)
	if a.cfg.Recovery.Enabled {
		if err := a.replay(elog, q); err != nil {
			return err
		}
	}

	d := a.cfg.Delivery
	worker := delivery.NewWorker(q, a.sender, a.codec, elog, delivery.Options{
		DeviceID:        a.cfg.DeviceID,
		Key:             a.key,
		MaxAttempts:     d.MaxAttempts,
		InitialInterval: d.Backoff.Initial,
		MaxInterval:     d.Backoff.Max,
		Multiplier:      d.Backoff.Multiplier,
		Jitter:          d.Backoff.Jitter,
		Logger:          a.log,
	})

	g, gctx := errgroup.WithContext(ctx)
	obs := make(chan capture.Observation, 256)

	for _, src := range a.sources {
		g.Go(func() error {
			if err := src.Run(gctx, obs); err != nil {
				a.log.Error("capture source stopped", "source", src.Name(), "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case o := <-obs:
				a.accept(elog, q, o)
			}
		}
	})
	g.Go(func() error { return worker.Run(gctx) })

	if a.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           httpx.LogRequests(promhttp.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			a.log.Info("metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	a.log.Info("agent started", "device_id", a.cfg.DeviceID, "sources", len(a.sources), "hub_url", a.cfg.HubURL)
	err = g.Wait()
	a.log.Info("agent stopped", "pending", q.Len())
	return err
}

// accept normalizes one observation, logs it and queues it for delivery.
func (a *Agent) accept(elog *eventlog.Log, q *queue.Queue, o capture.Observation) {
	ev, err := a.norm.Normalize(o)
	if err != nil {
		kind := "unknown"
		if o.Details != nil {
			kind = string(o.Details.Kind())
		}
		metrics.CapturedTotal.WithLabelValues(kind, "invalid").Inc()
		a.log.Warn("dropping invalid observation", "source", o.Source, "error", err)
		return
	}
	a.enqueue(elog, q, ev, true)
}

func (a *Agent) enqueue(elog *eventlog.Log, q *queue.Queue, ev event.Event, persist bool) {
	kind := string(ev.Kind)
	if persist {
		if err := elog.Append(ev); err != nil {
			metrics.CapturedTotal.WithLabelValues(kind, "log_error").Inc()
			a.log.Error("append local event log", "event_id", ev.ID, "error", err)
		}
	}
	if err := q.Push(queue.Entry{Event: ev}); err != nil {
		metrics.CapturedTotal.WithLabelValues(kind, "queue_full").Inc()
		metrics.DeadLettersTotal.WithLabelValues(string(eventlog.ReasonQueueFull)).Inc()
		a.log.Warn("queue full, dead-lettering event", "event_id", ev.ID, "capacity", a.cfg.Queue.Capacity)
		if derr := elog.DeadLetter(eventlog.DeadLetter{Event: ev, Reason: eventlog.ReasonQueueFull, Error: err.Error()}); derr != nil {
			a.log.Error("write dead letter", "event_id", ev.ID, "error", derr)
		}
		return
	}
	metrics.CapturedTotal.WithLabelValues(kind, "queued").Inc()
	metrics.QueueDepth.Set(float64(q.Len()))
	a.log.Info("event accepted", "event_id", ev.ID, "kind", kind)
}

// replay queues every logged event that never reached a final state.
func (a *Agent) replay(elog *eventlog.Log, q *queue.Queue) error {
	pending, err := elog.Unsettled()
	if err != nil {
		return fmt.Errorf("recover local log: %w", err)
	}
	for _, ev := range pending {
		a.enqueue(elog, q, ev, false)
	}
	if len(pending) > 0 {
		a.log.Info("replaying undelivered events", "count", len(pending))
	}
	return nil
}
