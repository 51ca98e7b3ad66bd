package service

import (
	"context"
	"time"

	"ids/internal/envelope"
	"ids/services/hub/internal/eventstore"
	"ids/services/hub/internal/store"
)

const (
	DefaultDeviceName = "Unnamed Device"
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

type Options struct {
	// InternalToken gates device registration.
	InternalToken string
	Codec         *envelope.Codec
	// Now overrides the receipt clock in tests.
	Now func() time.Time
}

type Service struct {
	store         *store.Store
	events        eventstore.Store
	codec         *envelope.Codec
	internalToken []byte
	now           func() time.Time
}

func New(st *store.Store, events eventstore.Store, opts Options) *Service {
	codec := opts.Codec
	if codec == nil {
		codec, _ = envelope.New(envelope.SuiteAESGCM)
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:         st,
		events:        events,
		codec:         codec,
		internalToken: []byte(opts.InternalToken),
		now:           now,
	}
}

// Health pings the registry database and the event store.
func (s *Service) Health(ctx context.Context) map[string]error {
	return map[string]error{
		"database":    s.store.Ping(ctx),
		"event_store": s.events.Ping(ctx),
	}
}
