package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ids/internal/event"
	"ids/services/hub/internal/domain"
	"ids/services/hub/internal/store"
)

// SQLStore keeps events in the hub database next to the device registry.
type SQLStore struct {
	st *store.Store
}

func NewSQL(st *store.Store) *SQLStore { return &SQLStore{st: st} }

func (s *SQLStore) Put(ctx context.Context, e event.Event) error {
	stream, err := StreamFor(e.Kind)
	if err != nil {
		return err
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	rec := domain.EventRecord{
		ID:         e.ID,
		Stream:     stream,
		DeviceID:   e.DeviceID,
		DeviceName: e.DeviceName,
		Kind:       string(e.Kind),
		ReceivedAt: e.Timestamp.UTC(),
		CapturedAt: e.Timestamp.UTC(),
		Rating:     e.Rating,
		Details:    string(details),
	}
	if e.CapturedAt != nil {
		rec.CapturedAt = e.CapturedAt.UTC()
	}
	return s.st.Events().Insert(ctx, rec)
}

func (s *SQLStore) Query(ctx context.Context, q Query) ([]event.Event, error) {
	streams, err := streamsFor(q.Kinds)
	if err != nil {
		return nil, err
	}
	recs, err := s.st.Events().Find(ctx, store.EventFilter{
		Streams:  streams,
		DeviceID: q.DeviceID,
		Text:     q.Text,
		Limit:    q.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]event.Event, 0, len(recs))
	for _, rec := range recs {
		e, err := fromRecord(rec)
		if err != nil {
			slog.Warn("skipping unreadable event record", "id", rec.ID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *SQLStore) Purge(ctx context.Context, deviceID string) (int64, error) {
	return s.st.Events().DeleteByDevice(ctx, deviceID)
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.st.Ping(ctx) }

func fromRecord(rec domain.EventRecord) (event.Event, error) {
	kind := event.Kind(rec.Kind)
	details, err := event.DecodeDetails(kind, json.RawMessage(rec.Details))
	if err != nil {
		return event.Event{}, err
	}
	captured := rec.CapturedAt.UTC()
	return event.Event{
		ID:         rec.ID,
		DeviceID:   rec.DeviceID,
		Kind:       kind,
		Timestamp:  rec.ReceivedAt.UTC(),
		Rating:     rec.Rating,
		Details:    details,
		CapturedAt: &captured,
		DeviceName: rec.DeviceName,
	}, nil
}
