// Package eventstore is the boundary to the backend that persists and searches
// ingested events. Events are partitioned into one stream per kind.
package eventstore

import (
	"context"
	"fmt"

	"ids/internal/event"
)

const (
	StreamFile    = "file-events"
	StreamNetwork = "network-events"
)

// StreamFor names the stream an event of kind k is written to.
func StreamFor(k event.Kind) (string, error) {
	switch k {
	case event.KindFile:
		return StreamFile, nil
	case event.KindNetwork:
		return StreamNetwork, nil
	}
	return "", fmt.Errorf("%w: %q", event.ErrUnknownKind, k)
}

func streamsFor(kinds []event.Kind) ([]string, error) {
	if len(kinds) == 0 {
		return []string{StreamFile, StreamNetwork}, nil
	}
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		s, err := StreamFor(k)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type Query struct {
	DeviceID string
	Kinds    []event.Kind // empty means every kind
	Text     string
	Limit    int
}

type Store interface {
	// Put persists an enriched event into the stream for its kind.
	Put(ctx context.Context, e event.Event) error
	// Query returns matching events, newest first.
	Query(ctx context.Context, q Query) ([]event.Event, error)
	// Purge deletes every stored event of a device and reports how many.
	Purge(ctx context.Context, deviceID string) (int64, error)
	Ping(ctx context.Context) error
}
