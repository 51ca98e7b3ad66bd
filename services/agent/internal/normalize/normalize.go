// Package normalize turns raw captures into events.
package normalize

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ids/internal/event"
	"ids/services/agent/internal/capture"
)

var ErrNoDetails = errors.New("normalize: observation has no details")

type Normalizer struct {
	deviceID string
	newID    func() string
}

func New(deviceID string) *Normalizer {
	return &Normalizer{deviceID: deviceID, newID: func() string { return uuid.NewString() }}
}

// Normalize assigns a fresh id, the device id and the capture time in UTC,
// then validates the details for their kind.
func (n *Normalizer) Normalize(obs capture.Observation) (event.Event, error) {
	if obs.Details == nil {
		return event.Event{}, ErrNoDetails
	}
	at := obs.At
	if at.IsZero() {
		at = time.Now()
	}
	e := event.Event{
		ID:        n.newID(),
		DeviceID:  n.deviceID,
		Kind:      obs.Details.Kind(),
		Timestamp: at.UTC(),
		Details:   obs.Details,
	}
	if err := e.Validate(); err != nil {
		return event.Event{}, fmt.Errorf("normalize %s observation: %w", e.Kind, err)
	}
	return e, nil
}
