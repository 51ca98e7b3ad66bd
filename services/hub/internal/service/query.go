package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ids/internal/event"
	"ids/services/hub/internal/dto"
	"ids/services/hub/internal/eventstore"
)

type EventQuery struct {
	DeviceID string
	// Kind is "file", "network", "both" or empty.
	Kind  string
	Text  string
	Limit int
}

func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultQueryLimit
	case n > MaxQueryLimit:
		return MaxQueryLimit
	}
	return n
}

func parseKinds(s string) ([]event.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both", "all":
		return nil, nil
	}
	k, err := event.ParseKind(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("%w: type must be file, network or both", ErrInvalidRequest)
	}
	return []event.Kind{k}, nil
}

// DeviceEvents lists the newest events of a registered device.
func (s *Service) DeviceEvents(ctx context.Context, q EventQuery) (dto.EventList, error) {
	if _, err := s.LookupDevice(ctx, q.DeviceID); err != nil {
		if errors.Is(err, ErrUnknownDevice) {
			return dto.EventList{}, ErrDeviceNotFound
		}
		return dto.EventList{}, err
	}
	q.Text = ""
	return s.SearchEvents(ctx, q)
}

func (s *Service) SearchEvents(ctx context.Context, q EventQuery) (dto.EventList, error) {
	kinds, err := parseKinds(q.Kind)
	if err != nil {
		return dto.EventList{}, err
	}
	events, err := s.events.Query(ctx, eventstore.Query{
		DeviceID: q.DeviceID,
		Kinds:    kinds,
		Text:     strings.TrimSpace(q.Text),
		Limit:    ClampLimit(q.Limit),
	})
	if err != nil {
		return dto.EventList{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return dto.EventList{Count: len(events), Events: events}, nil
}
