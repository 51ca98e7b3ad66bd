// Package eventlog keeps the agent's durable records in its log directory:
//
//	file_events.json     every normalized file event, one JSON object per line
//	network_events.json  every normalized network event
//	delivered.ledger     ids that reached a final state (delivered or dead-lettered)
//	dead_letter.json     events given up on, with the reason
//
// The files are append-only and never truncated.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ids/internal/event"
)

const (
	FileEventsName    = "file_events.json"
	NetworkEventsName = "network_events.json"
	LedgerName        = "delivered.ledger"
	DeadLetterName    = "dead_letter.json"
)

type Reason string

const (
	ReasonRejected       Reason = "rejected"
	ReasonRetryExhausted Reason = "retry_exhausted"
	ReasonQueueFull      Reason = "queue_full"
	ReasonUnsealable     Reason = "unsealable"
)

type DeadLetter struct {
	Event    event.Event `json:"event"`
	Reason   Reason      `json:"reason"`
	Error    string      `json:"error,omitempty"`
	Attempts int         `json:"attempts"`
	At       time.Time   `json:"at"`
}

type appendFile struct {
	mu sync.Mutex
	f  *os.File
}

// write appends line and flushes it to stable storage before returning.
func (a *appendFile) write(line []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.f.Write(line); err != nil {
		return err
	}
	return a.f.Sync()
}

type Log struct {
	dir    string
	events map[event.Kind]*appendFile
	ledger *appendFile
	dead   *appendFile

	settledMu sync.RWMutex
	settled   map[string]struct{}
}

// Open creates dir if needed, opens every file for append and loads the ledger.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	l := &Log{dir: dir, events: map[event.Kind]*appendFile{}, settled: map[string]struct{}{}}

	open := func(name string) (*appendFile, error) {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		return &appendFile{f: f}, nil
	}

	var err error
	if l.events[event.KindFile], err = open(FileEventsName); err != nil {
		return nil, err
	}
	if l.events[event.KindNetwork], err = open(NetworkEventsName); err != nil {
		l.Close()
		return nil, err
	}
	if err := l.loadLedger(); err != nil {
		l.Close()
		return nil, err
	}
	if l.ledger, err = open(LedgerName); err != nil {
		l.Close()
		return nil, err
	}
	if l.dead, err = open(DeadLetterName); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}


func (l *Log) loadLedger() error {
	f, err := os.Open(filepath.Join(l.dir, LedgerName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if id := string(bytes.TrimSpace(sc.Bytes())); id != "" {
			l.settled[id] = struct{}{}
		}
	}
	return sc.Err()
}

// Append records e in the log for its kind.
func (l *Log) Append(e event.Event) error {
	af, ok := l.events[e.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", event.ErrUnknownKind, e.Kind)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return af.write(append(b, '\n'))
}

// Settle marks id as finished so recovery does not replay it.
func (l *Log) Settle(id string) error {
	if err := l.ledger.write([]byte(id + "\n")); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	l.settledMu.Lock()
	l.settled[id] = struct{}{}
	l.settledMu.Unlock()
	return nil
}

func (l *Log) Settled(id string) bool {
	l.settledMu.RLock()
	defer l.settledMu.RUnlock()
	_, ok := l.settled[id]
	return ok
}

// DeadLetter records rec in the dead-letter file and settles its event.
func (l *Log) DeadLetter(rec DeadLetter) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := l.dead.write(append(b, '\n')); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return l.Settle(rec.Event.ID)
}

// Unsettled returns every logged event that was neither delivered nor
// dead-lettered, oldest first. Malformed lines are skipped.
func (l *Log) Unsettled() ([]event.Event, error) {
	var out []event.Event
	seen := map[string]struct{}{}
	for _, name := range []string{FileEventsName, NetworkEventsName} {
		evs, err := l.readEvents(name)
		if err != nil {
			return nil, err
		}
		for _, e := range evs {
			if _, dup := seen[e.ID]; dup || l.Settled(e.ID) {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (l *Log) readEvents(name string) ([]event.Event, error) {
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	var out []event.Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		e, err := event.Decode(raw)
		if err != nil {
			slog.Warn("skipping malformed local log line", "file", name, "line", line, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (l *Log) Close() error {
	var firstErr error
	for _, af := range []*appendFile{l.events[event.KindFile], l.events[event.KindNetwork], l.ledger, l.dead} {
		if af == nil {
			continue
		}
		if err := af.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
