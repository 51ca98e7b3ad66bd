package store

import (
	"context"
	"errors"
	"time"

	"ids/services/hub/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceStore struct{ db *gorm.DB }

func (s *Store) Devices() *DeviceStore { return &DeviceStore{db: s.DB} }

// CreateIfAbsent inserts device unless the id is already taken. It reports
// whether a row was written.
func (d *DeviceStore) CreateIfAbsent(ctx context.Context, device domain.Device) (bool, error) {
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoNothing: true,
		}).
		Create(&device)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *DeviceStore) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	var device domain.Device
	if err := d.db.WithContext(ctx).First(&device, "device_id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &device, nil
}

func (d *DeviceStore) List(ctx context.Context) ([]domain.Device, error) {
	var devices []domain.Device
	err := d.db.WithContext(ctx).Order("created_at ASC").Find(&devices).Error
	return devices, err
}

func (d *DeviceStore) Delete(ctx context.Context, deviceID string) error {
	res := d.db.WithContext(ctx).Delete(&domain.Device{}, "device_id = ?", deviceID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (d *DeviceStore) MarkSeen(ctx context.Context, deviceID string, at time.Time) error {
	return d.db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]any{"status": domain.DeviceStatusOnline, "last_seen_at": at}).Error
}
