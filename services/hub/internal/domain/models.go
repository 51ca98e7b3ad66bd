package domain

import "time"

const (
	DeviceStatusOffline = "offline"
	DeviceStatusOnline  = "online"
)

type Device struct {
	DeviceID   string     `gorm:"primaryKey;size:255"`
	Name       string     `gorm:"size:255;not null"`
	APIKey     string     `gorm:"column:api_key;size:64;not null"`
	Status     string     `gorm:"size:32;not null;default:offline"`
	LastSeenAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"not null;autoUpdateTime"`
}

// EventRecord is the SQL event store row. Stream names the logical index
// ("file-events" or "network-events") and Details holds the kind specific
// payload as JSON text. Agents choose event ids, so a row is keyed by the
// device and the id together.
type EventRecord struct {
	ID         string    `gorm:"primaryKey;size:64"`
	DeviceID   string    `gorm:"primaryKey;size:255;index"`
	Stream     string    `gorm:"size:32;not null;index:idx_event_stream_received,priority:1"`
	DeviceName string    `gorm:"size:255"`
	Kind       string    `gorm:"size:16;not null"`
	ReceivedAt time.Time `gorm:"not null;index:idx_event_stream_received,priority:2"`
	CapturedAt time.Time `gorm:"not null"`
	Rating     *int
	Details    string `gorm:"type:text;not null"`
}

// Models lists every table the hub migrates.
func Models() []any {
	return []any{&Device{}, &EventRecord{}}
}
