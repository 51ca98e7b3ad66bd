package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ids/internal/event"
)

func fileEvent(id string, at time.Time) event.Event {
	return event.Event{
		ID: id, DeviceID: "D1", Kind: event.KindFile, Timestamp: at,
		Details: event.FileDetails{Path: "/data/" + id, Action: event.ActionCreated, Process: event.UnknownProcess},
	}
}

func netEvent(id string, at time.Time) event.Event {
	return event.Event{
		ID: id, DeviceID: "D1", Kind: event.KindNetwork, Timestamp: at,
		Details: event.NetworkDetails{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 22},
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestAppendWritesPerKindNDJSON(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	now := time.Now().UTC()
	for _, e := range []event.Event{fileEvent("f1", now), netEvent("n1", now), fileEvent("f2", now)} {
		if err := l.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if got := countLines(t, filepath.Join(dir, FileEventsName)); got != 2 {
		t.Fatalf("expected 2 file lines, got %d", got)
	}
	if got := countLines(t, filepath.Join(dir, NetworkEventsName)); got != 1 {
		t.Fatalf("expected 1 network line, got %d", got)
	}

	if err := l.Append(event.Event{ID: "x", Kind: "process"}); !errors.Is(err, event.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestRecoveryReplaysUnsettled(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = l.Append(fileEvent("f1", base))
	_ = l.Append(netEvent("n1", base.Add(time.Second)))
	_ = l.Append(fileEvent("f2", base.Add(2*time.Second)))
	_ = l.Append(fileEvent("f3", base.Add(3*time.Second)))
	if err := l.Settle("f1"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := l.DeadLetter(DeadLetter{Event: fileEvent("f3", base), Reason: ReasonRejected, Error: "400 invalid kind", Attempts: 1}); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	l.Close()

	// A torn write from a crash must not block recovery.
	f, _ := os.OpenFile(filepath.Join(dir, FileEventsName), os.O_APPEND|os.O_WRONLY, 0o600)
	_, _ = f.WriteString(`{"id":"torn","kind":"fi`)
	f.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	pending, err := reopened.Unsettled()
	if err != nil {
		t.Fatalf("unsettled: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "n1" || pending[1].ID != "f2" {
		ids := []string{}
		for _, e := range pending {
			ids = append(ids, e.ID)
		}
		t.Fatalf("expected [n1 f2], got %v", ids)
	}
	if !reopened.Settled("f1") || !reopened.Settled("f3") {
		t.Fatalf("ledger not reloaded")
	}
}

func TestDeadLetterRecord(t *testing.T) {
	dir := t.TempDir()
	l, _ := Open(dir)
	defer l.Close()

	ev := fileEvent("f9", time.Now().UTC())
	if err := l.DeadLetter(DeadLetter{Event: ev, Reason: ReasonRetryExhausted, Attempts: 5}); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, DeadLetterName))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var rec struct {
		Event    json.RawMessage `json:"event"`
		Reason   string          `json:"reason"`
		Attempts int             `json:"attempts"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Reason != "retry_exhausted" || rec.Attempts != 5 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := event.Decode(rec.Event); err != nil {
		t.Fatalf("dead-lettered event not decodable: %v", err)
	}
}
