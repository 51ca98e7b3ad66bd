package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ids/internal/event"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRootsContainment(t *testing.T) {
	base := t.TempDir()
	data := filepath.Join(base, "data")
	data2 := filepath.Join(base, "data2")
	other := filepath.Join(base, "other")
	for _, d := range []string{filepath.Join(data, "sub"), data2, other} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	for _, f := range []string{filepath.Join(data, "sub", "file"), filepath.Join(data2, "file"), filepath.Join(other, "file")} {
		if err := os.WriteFile(f, []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Symlink(filepath.Join(other, "file"), filepath.Join(data, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	roots := NewRoots([]string{data, filepath.Join(base, "missing")}, quietLogger())
	if len(roots.Dirs()) != 1 {
		t.Fatalf("missing root must be skipped, got %v", roots.Dirs())
	}

	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join(data, "sub", "file"), true},
		{filepath.Join(data, "sub", "gone"), true},
		{filepath.Join(data, "sub", "..", "sub", "file"), true},
		{filepath.Join(data2, "file"), false},
		{filepath.Join(other, "file"), false},
		{filepath.Join(data, "..", "other", "file"), false},
		{filepath.Join(data, "escape"), false},
	}
	for _, tc := range cases {
		if got := roots.Contains(tc.path); got != tc.want {
			t.Errorf("Contains(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestParseProbeLine(t *testing.T) {
	line := `{"timestamp":"2024-05-01 10:00:00","interface":"eth0","src_ip":"10.0.0.5","dst_ip":"10.0.0.9","src_port":51234,"dst_port":22,"packet_size":60,"flags":"SYN"}`
	d, err := ParseProbeLine([]byte(line))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Interface != "eth0" || d.SrcIP != "10.0.0.5" || d.DstPort != 22 || d.PacketSize != 60 {
		t.Fatalf("unexpected details: %+v", d)
	}
	if d.ProbeTime != "2024-05-01 10:00:00" {
		t.Fatalf("probe timestamp not kept: %q", d.ProbeTime)
	}
	if string(d.Extra["flags"]) != `"SYN"` {
		t.Fatalf("unknown field not kept: %v", d.Extra)
	}

	for _, bad := range []string{`not json`, `[1,2]`, `null`, `{"src_port":"x"}`, `{"src_ip":"999.1.1.1"}`, `{"dst_port":70000}`} {
		if _, err := ParseProbeLine([]byte(bad)); err == nil {
			t.Errorf("expected %s to be rejected", bad)
		}
	}
}

func TestScanProbeOutputSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"src_ip":"10.0.0.1","dst_port":80}`,
		``,
		`garbage {`,
		`{"src_ip":"10.0.0.2","dst_port":443}`,
	}, "\n")

	var got []event.NetworkDetails
	err := ScanProbeOutput(context.Background(), strings.NewReader(input), quietLogger(), func(d event.NetworkDetails) bool {
		got = append(got, d)
		return true
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 || got[0].DstPort != 80 || got[1].DstPort != 443 {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestProbeRunsCommand(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	script := `echo '{"src_ip":"10.0.0.1","dst_port":22}'; echo 'oops'; echo 'to stderr' 1>&2; echo '{"src_ip":"10.0.0.2","dst_port":23}'`
	p := NewProbe([]string{sh, "-c", script}, quietLogger())

	out := make(chan Observation, 10)
	if err := p.Run(context.Background(), out); err != nil {
		t.Fatalf("run: %v", err)
	}
	close(out)

	var ports []int
	for obs := range out {
		d, ok := obs.Details.(event.NetworkDetails)
		if !ok {
			t.Fatalf("unexpected details type %T", obs.Details)
		}
		ports = append(ports, d.DstPort)
	}
	if len(ports) != 2 || ports[0] != 22 || ports[1] != 23 {
		t.Fatalf("expected ports [22 23], got %v", ports)
	}
}

func TestProbeMissingBinary(t *testing.T) {
	p := NewProbe([]string{filepath.Join(t.TempDir(), "net_mon.bin")}, quietLogger())
	if err := p.Run(context.Background(), make(chan Observation)); err == nil {
		t.Fatalf("expected start failure")
	}
}

type flakySource struct {
	runs atomic.Int32
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Run(ctx context.Context, out chan<- Observation) error {
	f.runs.Add(1)
	return errors.New("exited")
}

func TestSupervisorRestarts(t *testing.T) {
	src := &flakySource{}
	sup := Supervise(src, RestartPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, make(chan Observation)) }()

	deadline := time.Now().Add(2 * time.Second)
	for src.runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("source restarted only %d times", src.runs.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("supervisor: %v", err)
	}
}

func TestFileWatcherReportsFiles(t *testing.T) {
	root := t.TempDir()
	w := NewFileWatcher(root, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Observation, 64)
	go func() { _ = w.Run(ctx, out) }()

	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	target := filepath.Join(sub, "report.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	canonTarget := Canonical(target)
	deadline := time.After(3 * time.Second)
	for {
		select {
		case obs := <-out:
			d := obs.Details.(event.FileDetails)
			if d.Path == sub || d.Path == Canonical(sub) {
				t.Fatalf("directory events must not be reported")
			}
			if Canonical(d.Path) == canonTarget && d.Action == event.ActionCreated {
				if d.Process != event.UnknownProcess {
					t.Fatalf("unexpected process %q", d.Process)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no created event for %s", target)
		}
	}
}
