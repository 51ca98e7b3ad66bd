package event

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
)

// UnknownProcess is reported when the platform cannot attribute a file change.
const UnknownProcess = "unknown"

// File actions reported by the watcher.
const (
	ActionCreated  = "created"
	ActionModified = "modified"
	ActionDeleted  = "deleted"
	ActionMoved    = "moved"
	ActionAttrib   = "attrib"
)

type FileDetails struct {
	Path    string `json:"path"`
	Action  string `json:"action"`
	Process string `json:"process"`
}

func (FileDetails) Kind() Kind { return KindFile }

func (d FileDetails) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("%w: missing path", ErrInvalid)
	}
	if !isAbsolute(d.Path) {
		return fmt.Errorf("%w: path %q is not absolute", ErrInvalid, d.Path)
	}
	if d.Action == "" {
		return fmt.Errorf("%w: missing action", ErrInvalid)
	}
	return nil
}

// isAbsolute accepts both slash rooted and drive rooted paths, so a hub on one
// platform can validate events captured on another.
func isAbsolute(p string) bool {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\\`) {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}

type NetworkDetails struct {
	Interface  string `json:"interface,omitempty"`
	SrcIP      string `json:"src_ip,omitempty"`
	DstIP      string `json:"dst_ip,omitempty"`
	SrcPort    int    `json:"src_port"`
	DstPort    int    `json:"dst_port"`
	PacketSize int    `json:"packet_size"`
	Protocol   string `json:"protocol,omitempty"`
	ProbeTime  string `json:"probe_time,omitempty"`

	// Extra holds probe fields the pipeline does not interpret.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

func (NetworkDetails) Kind() Kind { return KindNetwork }

func (d NetworkDetails) Validate() error {
	for name, ip := range map[string]string{"src_ip": d.SrcIP, "dst_ip": d.DstIP} {
		if ip == "" {
			continue
		}
		if _, err := netip.ParseAddr(ip); err != nil {
			return fmt.Errorf("%w: %s %q", ErrInvalid, name, ip)
		}
	}
	for name, port := range map[string]int{"src_port": d.SrcPort, "dst_port": d.DstPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalid, name, port)
		}
	}
	if d.PacketSize < 0 {
		return fmt.Errorf("%w: negative packet_size", ErrInvalid)
	}
	return nil
}
