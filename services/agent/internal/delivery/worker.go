// Package delivery drains the queue towards the hub.
//
// A single Worker pops the head entry, seals it and posts it. Success settles
// the event. A permanent failure dead-letters it. A transient failure puts it
// back at the tail and waits out the backoff interval, unless the attempt cap
// is reached, in which case it is dead-lettered too.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ids/internal/event"
	"ids/services/agent/internal/eventlog"
	"ids/services/agent/internal/observability/metrics"
	"ids/services/agent/internal/queue"
)

var ErrPermanent = errors.New("delivery: permanent failure")

// Sender posts one sealed envelope to the hub.
type Sender interface {
	SendEvent(ctx context.Context, deviceID, envelope string) error
}

type Sealer interface {
	Seal(key []byte, v any) (string, error)
}

// Ledger records final outcomes so recovery does not replay them.
type Ledger interface {
	Settle(id string) error
	DeadLetter(rec eventlog.DeadLetter) error
}

type statusCoder interface {
	HTTPStatus() int
}

// IsPermanent reports whether retrying err can never succeed. Hub 4xx answers
// are permanent apart from 408 and 429; 5xx and transport errors are not.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrPermanent) {
		return true
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
			return false
		}
		return code >= 400 && code < 500
	}
	return false
}

type Options struct {
	DeviceID string
	Key      []byte

	// MaxAttempts caps attempts per event; 0 retries forever.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64

	Logger *slog.Logger
}

type Worker struct {
	q      *queue.Queue
	send   Sender
	seal   Sealer
	ledger Ledger
	opts   Options
	bo     *backoff.ExponentialBackOff
	log    *slog.Logger
}

func NewWorker(q *queue.Queue, send Sender, seal Sealer, ledger Ledger, opts Options) *Worker {
	bo := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		bo.InitialInterval = opts.InitialInterval
	}
	if opts.MaxInterval > 0 {
		bo.MaxInterval = opts.MaxInterval
	}
	if opts.Multiplier >= 1 {
		bo.Multiplier = opts.Multiplier
	}
	if opts.Jitter >= 0 && opts.Jitter < 1 {
		bo.RandomizationFactor = opts.Jitter
	}
	bo.Reset()

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Worker{q: q, send: send, seal: seal, ledger: ledger, opts: opts, bo: bo, log: log.With("component", "delivery")}
}

// Run delivers until ctx is cancelled. Entries still queued at that point
// remain unsettled in the local log.
func (w *Worker) Run(ctx context.Context) error {
	for {
		entry, err := w.q.Pop(ctx)
		if err != nil {
			return nil
		}
		metrics.QueueDepth.Set(float64(w.q.Len()))
		if wait := w.deliver(ctx, entry); wait > 0 {
			if !sleep(ctx, wait) {
				return nil
			}
		}
	}
}

// deliver makes one attempt and returns how long to wait before the next.
func (w *Worker) deliver(ctx context.Context, entry queue.Entry) time.Duration {
	ev := entry.Event
	blob, err := w.seal.Seal(w.opts.Key, ev)
	if err != nil {
		w.deadLetter(ev, eventlog.ReasonUnsealable, err, entry.Attempts)
		return 0
	}

	entry.Attempts++
	err = w.send.SendEvent(ctx, w.opts.DeviceID, blob)
	switch {
	case err == nil:
		metrics.DeliveryAttemptsTotal.WithLabelValues("delivered").Inc()
		if serr := w.ledger.Settle(ev.ID); serr != nil {
			w.log.Error("settle delivered event", "event_id", ev.ID, "error", serr)
		}
		w.log.Info("event delivered", "event_id", ev.ID, "kind", ev.Kind, "attempts", entry.Attempts)
		w.bo.Reset()
		return 0

	case ctx.Err() != nil:
		// Shutting down; the event stays unsettled for the next start.
		return 0

	case IsPermanent(err):
		metrics.DeliveryAttemptsTotal.WithLabelValues("permanent").Inc()
		w.deadLetter(ev, eventlog.ReasonRejected, err, entry.Attempts)
		return 0
	}

	metrics.DeliveryAttemptsTotal.WithLabelValues("transient").Inc()
	if w.opts.MaxAttempts > 0 && entry.Attempts >= w.opts.MaxAttempts {
		w.deadLetter(ev, eventlog.ReasonRetryExhausted, err, entry.Attempts)
		return 0
	}
	wait := w.bo.NextBackOff()
	w.log.Warn("delivery failed, will retry", "event_id", ev.ID, "attempts", entry.Attempts, "retry_in", wait, "error", err)
	w.q.Requeue(entry)
	metrics.QueueDepth.Set(float64(w.q.Len()))
	return wait
}

func (w *Worker) deadLetter(ev event.Event, reason eventlog.Reason, cause error, attempts int) {
	metrics.DeadLettersTotal.WithLabelValues(string(reason)).Inc()
	w.log.Warn("event dead-lettered", "event_id", ev.ID, "reason", reason, "attempts", attempts, "error", cause)
	rec := eventlog.DeadLetter{Event: ev, Reason: reason, Attempts: attempts}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := w.ledger.DeadLetter(rec); err != nil {
		w.log.Error("write dead letter", "event_id", ev.ID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
