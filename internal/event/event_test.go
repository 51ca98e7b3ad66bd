package event_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ids/internal/event"
)

func TestDecodeFileEvent(t *testing.T) {
	raw := []byte(`{"id":"e1","device_id":"D1","kind":"file","timestamp":"2024-05-01T10:00:00Z",
		"details":{"path":"/data/a.txt","action":"modified","process":"unknown"}}`)

	e, err := event.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	fd, ok := e.Details.(event.FileDetails)
	if !ok {
		t.Fatalf("expected FileDetails, got %T", e.Details)
	}
	if fd.Path != "/data/a.txt" || fd.Action != "modified" {
		t.Fatalf("unexpected details: %+v", fd)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	raw := []byte(`{"id":"e1","device_id":"D1","kind":"process","timestamp":"2024-05-01T10:00:00Z","details":{"pid":1}}`)

	_, err := event.Decode(raw)
	if !errors.Is(err, event.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name    string
		ev      event.Event
		wantErr bool
	}{
		{
			name: "valid network",
			ev: event.Event{ID: "1", DeviceID: "D", Kind: event.KindNetwork, Timestamp: now,
				Details: event.NetworkDetails{SrcIP: "10.0.0.1", DstIP: "::1", SrcPort: 443, DstPort: 51000}},
		},
		{
			name: "bad ip",
			ev: event.Event{ID: "1", DeviceID: "D", Kind: event.KindNetwork, Timestamp: now,
				Details: event.NetworkDetails{SrcIP: "999.1.1.1"}},
			wantErr: true,
		},
		{
			name: "port out of range",
			ev: event.Event{ID: "1", DeviceID: "D", Kind: event.KindNetwork, Timestamp: now,
				Details: event.NetworkDetails{DstPort: 70000}},
			wantErr: true,
		},
		{
			name: "relative path",
			ev: event.Event{ID: "1", DeviceID: "D", Kind: event.KindFile, Timestamp: now,
				Details: event.FileDetails{Path: "a.txt", Action: "created"}},
			wantErr: true,
		},
		{
			name: "windows path",
			ev: event.Event{ID: "1", DeviceID: "D", Kind: event.KindFile, Timestamp: now,
				Details: event.FileDetails{Path: `C:\data\a.txt`, Action: "created"}},
		},
		{
			name: "mismatched details",
			ev: event.Event{ID: "1", DeviceID: "D", Kind: event.KindFile, Timestamp: now,
				Details: event.NetworkDetails{}},
			wantErr: true,
		},
		{
			name: "missing device",
			ev: event.Event{ID: "1", Kind: event.KindFile, Timestamp: now,
				Details: event.FileDetails{Path: "/a", Action: "created"}},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNetworkExtraSurvivesEncoding(t *testing.T) {
	in := event.Event{
		ID:        "n1",
		DeviceID:  "D",
		Kind:      event.KindNetwork,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Details: event.NetworkDetails{
			Interface: "eth0",
			Extra:     map[string]json.RawMessage{"flags": json.RawMessage(`["SYN","ACK"]`)},
		},
	}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := event.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	nd := out.Details.(event.NetworkDetails)
	if string(nd.Extra["flags"]) != `["SYN","ACK"]` {
		t.Fatalf("extra lost: %s", nd.Extra["flags"])
	}
}
