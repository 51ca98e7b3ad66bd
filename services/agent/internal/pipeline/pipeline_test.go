package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ids/internal/envelope"
	"ids/internal/event"
	"ids/services/agent/internal/capture"
	"ids/services/agent/internal/config"
	"ids/services/agent/internal/eventlog"
	"ids/services/agent/internal/queue"
)

// recordingHub opens every envelope it receives.
type recordingHub struct {
	codec *envelope.Codec
	key   []byte

	mu     sync.Mutex
	events []event.Event
}

func (h *recordingHub) SendEvent(_ context.Context, deviceID, blob string) error {
	plain, err := h.codec.Open(h.key, blob)
	if err != nil {
		return err
	}
	ev, err := event.Decode(plain)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return nil
}

func (h *recordingHub) received() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]event.Event(nil), h.events...)
}

type staticSource struct {
	obs []capture.Observation
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) Run(ctx context.Context, out chan<- capture.Observation) error {
	for _, o := range s.obs {
		select {
		case out <- o:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func testConfig(t *testing.T) (config.Config, []byte) {
	t.Helper()
	key, err := envelope.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	return config.Config{
		DeviceID:   "D1",
		DeviceName: "laptop",
		HubURL:     "http://127.0.0.1:1",
		APIKey:     envelope.EncodeKey(key),
		Cipher:     string(envelope.SuiteAESGCM),
		LogDir:     t.TempDir(),
		Delivery: config.DeliveryConfig{
			Timeout: time.Second,
			Backoff: config.BackoffConfig{Initial: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2},
		},
		Recovery: config.RecoveryConfig{Enabled: true},
	}, key
}

func runUntil(t *testing.T, a *Agent, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatalf("condition not reached before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCaptureToDelivery(t *testing.T) {
	cfg, key := testConfig(t)
	codec, _ := envelope.New(envelope.SuiteAESGCM)
	hub := &recordingHub{codec: codec, key: key}

	src := staticSource{obs: []capture.Observation{
		{Source: "static", At: time.Now(), Details: event.FileDetails{Path: "/data/a", Action: event.ActionCreated, Process: event.UnknownProcess}},
		{Source: "static", At: time.Now(), Details: event.FileDetails{Path: "relative", Action: event.ActionCreated}},
		{Source: "static", At: time.Now(), Details: event.NetworkDetails{SrcIP: "10.0.0.1", DstPort: 22}},
	}}
	a, err := New(cfg, WithSources(src), WithSender(hub), WithLogger(quiet()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	runUntil(t, a, func() bool { return len(hub.received()) == 2 })

	got := hub.received()
	if got[0].Kind != event.KindFile || got[1].Kind != event.KindNetwork {
		t.Fatalf("unexpected delivery order: %s, %s", got[0].Kind, got[1].Kind)
	}
	for _, ev := range got {
		if ev.DeviceID != "D1" || ev.ID == "" {
			t.Fatalf("event not normalized: %+v", ev)
		}
	}

	elog, err := eventlog.Open(cfg.LogDir)
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	defer elog.Close()
	pending, err := elog.Unsettled()
	if err != nil {
		t.Fatalf("unsettled: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("delivered events must be settled, %d pending", len(pending))
	}
}

func TestRecoveryReplaysOnStart(t *testing.T) {
	cfg, key := testConfig(t)

	elog, err := eventlog.Open(cfg.LogDir)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	leftover := event.Event{
		ID: "left-1", DeviceID: "D1", Kind: event.KindFile, Timestamp: time.Now().UTC(),
		Details: event.FileDetails{Path: "/data/b", Action: event.ActionDeleted, Process: event.UnknownProcess},
	}
	delivered := leftover
	delivered.ID = "done-1"
	_ = elog.Append(leftover)
	_ = elog.Append(delivered)
	_ = elog.Settle("done-1")
	elog.Close()

	codec, _ := envelope.New(envelope.SuiteAESGCM)
	hub := &recordingHub{codec: codec, key: key}
	a, err := New(cfg, WithSources(), WithSender(hub), WithLogger(quiet()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	runUntil(t, a, func() bool { return len(hub.received()) == 1 })

	time.Sleep(20 * time.Millisecond)
	got := hub.received()
	if len(got) != 1 || got[0].ID != "left-1" {
		t.Fatalf("expected only the unsettled event to be replayed, got %+v", got)
	}
}

func TestQueueFullDeadLetters(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Queue.Capacity = 1

	a, err := New(cfg, WithSources(), WithLogger(quiet()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	elog, err := eventlog.Open(cfg.LogDir)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer elog.Close()

	q := queue.New(cfg.Queue.Capacity)
	for i := 0; i < 2; i++ {
		a.accept(elog, q, capture.Observation{At: time.Now(), Details: event.FileDetails{Path: "/data/x", Action: event.ActionModified, Process: event.UnknownProcess}})
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued event, got %d", q.Len())
	}
	pending, _ := elog.Unsettled()
	if len(pending) != 1 {
		t.Fatalf("overflowed event must be settled as dead letter, %d pending", len(pending))
	}
}

func TestNewRequiresRegistration(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.APIKey = ""
	if _, err := New(cfg); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}
