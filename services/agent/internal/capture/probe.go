package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"ids/internal/event"
)

// maxProbeLine bounds one line of probe output.
const maxProbeLine = 1 << 20

var ErrProbeOutput = errors.New("capture: malformed probe output")

// Probe runs the external network monitor once and reports each JSON line it
// prints on stdout. Run returns when the process exits.
type Probe struct {
	command []string
	log     *slog.Logger
	now     func() time.Time
}

func NewProbe(command []string, log *slog.Logger) *Probe {
	if log == nil {
		log = slog.Default()
	}
	return &Probe{
		command: append([]string(nil), command...),
		log:     log.With("source", "network"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *Probe) Name() string { return "network-probe" }

func (p *Probe) Run(ctx context.Context, out chan<- Observation) error {
	if len(p.command) == 0 {
		return errors.New("capture: empty probe command")
	}
	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("probe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("probe stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start probe %s: %w", p.command[0], err)
	}
	p.log.Info("network probe started", "command", p.command, "pid", cmd.Process.Pid)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			p.log.Warn("probe stderr", "line", sc.Text())
		}
	}()

	scanErr := p.scan(ctx, stdout, out)
	if scanErr != nil {
		_ = cmd.Process.Kill()
	}
	<-stderrDone
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if scanErr != nil {
		return scanErr
	}
	if waitErr != nil {
		return fmt.Errorf("probe exited: %w", waitErr)
	}
	return nil
}

func (p *Probe) scan(ctx context.Context, r io.Reader, out chan<- Observation) error {
	return ScanProbeOutput(ctx, r, p.log, func(d event.NetworkDetails) bool {
		return emit(ctx, out, Observation{Source: p.Name(), At: p.now(), Details: d})
	})
}

// ScanProbeOutput reads newline-delimited JSON from r and passes every parsed
// line to fn until r ends, ctx ends or fn returns false. Blank lines are
// skipped and malformed lines are logged and dropped.
func ScanProbeOutput(ctx context.Context, r io.Reader, log *slog.Logger, fn func(event.NetworkDetails) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxProbeLine)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		d, err := ParseProbeLine(line)
		if err != nil {
			log.Warn("dropping probe line", "line", string(line), "error", err)
			continue
		}
		if !fn(d) {
			return nil
		}
	}
	return sc.Err()
}

// ParseProbeLine decodes one probe record. Known fields populate the typed
// details; the probe's own "timestamp" becomes ProbeTime and anything else is
// kept in Extra.
func ParseProbeLine(line []byte) (event.NetworkDetails, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return event.NetworkDetails{}, fmt.Errorf("%w: %v", ErrProbeOutput, err)
	}
	if fields == nil {
		return event.NetworkDetails{}, fmt.Errorf("%w: not an object", ErrProbeOutput)
	}

	var d event.NetworkDetails
	targets := map[string]any{
		"interface":   &d.Interface,
		"src_ip":      &d.SrcIP,
		"dst_ip":      &d.DstIP,
		"src_port":    &d.SrcPort,
		"dst_port":    &d.DstPort,
		"packet_size": &d.PacketSize,
		"protocol":    &d.Protocol,
		"timestamp":   &d.ProbeTime,
	}
	for key, raw := range fields {
		target, known := targets[key]
		if !known {
			if d.Extra == nil {
				d.Extra = map[string]json.RawMessage{}
			}
			d.Extra[key] = raw
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return event.NetworkDetails{}, fmt.Errorf("%w: field %s: %v", ErrProbeOutput, key, err)
		}
	}
	if err := d.Validate(); err != nil {
		return event.NetworkDetails{}, err
	}
	return d, nil
}
