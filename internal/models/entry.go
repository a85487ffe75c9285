package models

import "time"

// ConfigEntry is the result of the setup flow.
type ConfigEntry struct {
	ID         int64     `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Username   string    `json:"username" db:"username"`
	Password   string    `json:"-" db:"password"`
	LocationID string    `json:"location_id" db:"location_id"`
	DeviceID   string    `json:"device_id" db:"device_id"`
	DeviceName string    `json:"device_name" db:"device_name"`
	DeviceType int       `json:"device_type" db:"device_type"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// DeviceInfo identifies the polled device to hosts.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceType int    `json:"device_type"`
	HasBackup  bool   `json:"has_backup"`
}
