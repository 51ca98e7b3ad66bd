package store

import (
	"context"
	"strings"

	"ids/services/hub/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRecordStore struct{ db *gorm.DB }

func (s *Store) Events() *EventRecordStore { return &EventRecordStore{db: s.DB} }

// Insert stores rec. A record the same device already stored under that id is
// left as is, so a replayed delivery is accepted again.
func (e *EventRecordStore) Insert(ctx context.Context, rec domain.EventRecord) error {
	return e.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

type EventFilter struct {
	Streams  []string
	DeviceID string
	Text     string
	Limit    int
}

// Find returns matching records, newest first.
func (e *EventRecordStore) Find(ctx context.Context, f EventFilter) ([]domain.EventRecord, error) {
	q := e.db.WithContext(ctx).Model(&domain.EventRecord{})
	if len(f.Streams) > 0 {
		q = q.Where("stream IN ?", f.Streams)
	}
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.Text != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(f.Text)) + "%"
		q = q.Where(`(LOWER(details) LIKE ? ESCAPE '\' OR LOWER(device_name) LIKE ? ESCAPE '\' OR LOWER(device_id) LIKE ? ESCAPE '\')`, like, like, like)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []domain.EventRecord
	err := q.Order("received_at DESC").Find(&out).Error
	return out, err
}

func (e *EventRecordStore) DeleteByDevice(ctx context.Context, deviceID string) (int64, error) {
	res := e.db.WithContext(ctx).Delete(&domain.EventRecord{}, "device_id = ?", deviceID)
	return res.RowsAffected, res.Error
}
