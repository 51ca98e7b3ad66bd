package dto

import "time"

type RegisterDeviceRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type RegisterDeviceResponse struct {
	APIKey   string `json:"api_key"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type Device struct {
	DeviceID   string     `json:"device_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type DeviceList struct {
	Devices []Device `json:"devices"`
}

type DeleteDeviceResponse struct {
	DeviceID     string `json:"device_id"`
	PurgedEvents int64  `json:"purged_events"`
}
