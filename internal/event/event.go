// Package event defines the observation record shared by the agent and the hub.
//
// An Event carries kind-specific details as a tagged union: FileDetails for
// kind "file" and NetworkDetails for kind "network". Any other kind is rejected
// while decoding.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindFile    Kind = "file"
	KindNetwork Kind = "network"
)

var (
	ErrUnknownKind = errors.New("event: unknown kind")
	ErrInvalid     = errors.New("event: invalid event")
)

// ParseKind maps a wire string onto a known Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFile, KindNetwork:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Details is implemented by FileDetails and NetworkDetails.
type Details interface {
	Kind() Kind
	Validate() error
}

type Event struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Rating    *int      `json:"rating,omitempty"`
	Details   Details   `json:"details"`

	// Set by the hub during enrichment.
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	DeviceName string     `json:"device_name,omitempty"`
}

type wireEvent struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	Kind       Kind            `json:"kind"`
	Timestamp  time.Time       `json:"timestamp"`
	Rating     *int            `json:"rating,omitempty"`
	Details    json.RawMessage `json:"details"`
	CapturedAt *time.Time      `json:"captured_at,omitempty"`
	DeviceName string          `json:"device_name,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Details == nil {
		return nil, fmt.Errorf("%w: missing details", ErrInvalid)
	}
	raw, err := json.Marshal(e.Details)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		ID:         e.ID,
		DeviceID:   e.DeviceID,
		Kind:       e.Kind,
		Timestamp:  e.Timestamp.UTC(),
		Rating:     e.Rating,
		Details:    raw,
		CapturedAt: e.CapturedAt,
		DeviceName: e.DeviceName,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	details, err := DecodeDetails(w.Kind, w.Details)
	if err != nil {
		return err
	}
	*e = Event{
		ID:         w.ID,
		DeviceID:   w.DeviceID,
		Kind:       w.Kind,
		Timestamp:  w.Timestamp,
		Rating:     w.Rating,
		Details:    details,
		CapturedAt: w.CapturedAt,
		DeviceName: w.DeviceName,
	}
	return nil
}

// DecodeDetails decodes raw details according to kind.
func DecodeDetails(kind Kind, raw json.RawMessage) (Details, error) {
	if len(raw) == 0 || string(raw) == "null" {
		if _, err := ParseKind(string(kind)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: missing details", ErrInvalid)
	}
	switch kind {
	case KindFile:
		var d FileDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: file details: %v", ErrInvalid, err)
		}
		return d, nil
	case KindNetwork:
		var d NetworkDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: network details: %v", ErrInvalid, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Decode parses and validates a JSON encoded event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks the envelope fields and the details of e.
func (e Event) Validate() error {
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return err
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if e.DeviceID == "" {
		return fmt.Errorf("%w: missing device_id", ErrInvalid)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalid)
	}
	if e.Details == nil {
		return fmt.Errorf("%w: missing details", ErrInvalid)
	}
	if e.Details.Kind() != e.Kind {
		return fmt.Errorf("%w: %s details on %s event", ErrInvalid, e.Details.Kind(), e.Kind)
	}
	return e.Details.Validate()
}
