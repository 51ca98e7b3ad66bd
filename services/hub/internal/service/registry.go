package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"ids/internal/envelope"
	"ids/services/hub/internal/domain"
	"ids/services/hub/internal/dto"
	"ids/services/hub/internal/store"
)

// AuthorizeRegistration checks the shared registration secret in constant time.
func (s *Service) AuthorizeRegistration(token string) error {
	if len(s.internalToken) == 0 || subtle.ConstantTimeCompare([]byte(token), s.internalToken) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// RegisterDevice creates the device with a fresh key, or returns the stored
// key when the id is already registered. created reports which happened.
func (s *Service) RegisterDevice(ctx context.Context, req dto.RegisterDeviceRequest) (resp dto.RegisterDeviceResponse, created bool, err error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return dto.RegisterDeviceResponse{}, false, fmt.Errorf("%w: missing device_id", ErrInvalidRequest)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultDeviceName
	}

	key, err := envelope.GenerateKey()
	if err != nil {
		return dto.RegisterDeviceResponse{}, false, fmt.Errorf("generate device key: %w", err)
	}

	var device *domain.Device
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		created, err = tx.Devices().CreateIfAbsent(ctx, domain.Device{
			DeviceID: deviceID,
			Name:     name,
			APIKey:   envelope.EncodeKey(key),
			Status:   domain.DeviceStatusOffline,
		})
		if err != nil {
			return err
		}
		device, err = tx.Devices().Get(ctx, deviceID)
		return err
	})
	if err != nil {
		return dto.RegisterDeviceResponse{}, false, err
	}

	return dto.RegisterDeviceResponse{
		APIKey:   device.APIKey,
		DeviceID: device.DeviceID,
		Name:     device.Name,
	}, created, nil
}

// LookupDevice resolves a device identity for ingestion.
func (s *Service) LookupDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	device, err := s.store.Devices().Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrUnknownDevice
		}
		return nil, err
	}
	return device, nil
}

func (s *Service) ListDevices(ctx context.Context) (dto.DeviceList, error) {
	devices, err := s.store.Devices().List(ctx)
	if err != nil {
		return dto.DeviceList{}, err
	}
	out := dto.DeviceList{Devices: make([]dto.Device, 0, len(devices))}
	for _, d := range devices {
		out.Devices = append(out.Devices, dto.Device{
			DeviceID:   d.DeviceID,
			Name:       d.Name,
			Status:     d.Status,
			LastSeenAt: d.LastSeenAt,
			CreatedAt:  d.CreatedAt,
		})
	}
	return out, nil
}

// DeleteDevice removes the device and with it the key. Later deliveries from
// that identity are rejected as unknown. Stored events are kept unless they are
// purged with PurgeDeviceEvents.
func (s *Service) DeleteDevice(ctx context.Context, deviceID string) error {
	if err := s.store.Devices().Delete(ctx, deviceID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}
	return nil
}

// PurgeDeviceEvents deletes every stored event of deviceID.
func (s *Service) PurgeDeviceEvents(ctx context.Context, deviceID string) (int64, error) {
	if deviceID == "" {
		return 0, fmt.Errorf("%w: missing device_id", ErrInvalidRequest)
	}
	n, err := s.events.Purge(ctx, deviceID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
