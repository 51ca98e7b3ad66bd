package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ids/internal/envelope"
	"ids/internal/event"
)

// IngestEvent authenticates, decrypts, validates and stores one delivery.
// The device id in the payload is replaced by the header identity, the agent
// timestamp is kept as captured_at and timestamp becomes the receipt time.
func (s *Service) IngestEvent(ctx context.Context, deviceID, blob string) (event.Event, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return event.Event{}, ErrMissingDeviceID
	}
	if strings.TrimSpace(blob) == "" {
		return event.Event{}, ErrEmptyPayload
	}

	device, err := s.LookupDevice(ctx, deviceID)
	if err != nil {
		return event.Event{}, err
	}
	key, err := envelope.ParseKey(device.APIKey)
	if err != nil {
		return event.Event{}, fmt.Errorf("device %s has an unusable key: %w", deviceID, err)
	}

	plaintext, err := s.codec.Open(key, blob)
	if err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	ev, err := event.Decode(plaintext)
	if err != nil {
		if errors.Is(err, event.ErrUnknownKind) {
			return event.Event{}, fmt.Errorf("%w: %v", ErrInvalidKind, err)
		}
		return event.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	received := s.now()
	captured := ev.Timestamp.UTC()
	ev.DeviceID = device.DeviceID
	ev.DeviceName = device.Name
	ev.CapturedAt = &captured
	ev.Timestamp = received

	if err := s.events.Put(ctx, ev); err != nil {
		return event.Event{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.store.Devices().MarkSeen(ctx, device.DeviceID, received); err != nil {
		slog.Warn("failed to update device last seen", "device_id", device.DeviceID, "error", err)
	}
	return ev, nil
}
