package pumpspy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Motor identifies a pump circuit.
type Motor string

const (
	MotorMain   Motor = "ac"
	MotorBackup Motor = "dc"
)

// Interval is an aggregate bucket.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// ParseInterval validates an interval name.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case IntervalDay, IntervalWeek, IntervalMonth:
		return Interval(s), nil
	}
	return "", &ConfigurationError{Field: "intervals", Reason: fmt.Sprintf("unknown interval %q", s)}
}

// FlexString decodes a JSON string or number into a string.
// The API is not consistent about quoting ids and revisions.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// oneOrMany decodes either a JSON array or a single object.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*o = items
		return nil
	}
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	*o = []T{item}
	return nil
}

// User is an entry of /users/email.
type User struct {
	UID   FlexString `json:"uid"`
	Email string     `json:"email,omitempty"`
}

// Location is an entry of /locations/uid.
type Location struct {
	LID      FlexString `json:"lid"`
	UID      FlexString `json:"uid,omitempty"`
	Nickname string     `json:"nickname"`
}

// Device is an entry of /devices/lid and /devices/deviceid.
type Device struct {
	DeviceID        FlexString `json:"deviceid"`
	LID             FlexString `json:"lid,omitempty"`
	DeviceType      int        `json:"device_type"`
	DeviceTypesName string     `json:"device_types_name"`
	UserNickname    string     `json:"user_nickname,omitempty"`
}

// DisplayName prefers the user's nickname over the type name.
func (d Device) DisplayName() string {
	if d.UserNickname != "" {
		return d.UserNickname
	}
	return d.DeviceTypesName
}

// Alert is one alert flag of the status record.
type Alert struct {
	State   bool   `json:"state"`
	Message string `json:"message"`
}

// AlertKey names an alert field of StatusRecord.
type AlertKey string

const (
	AlertConnected              AlertKey = "connected"
	AlertHighWater              AlertKey = "high_water_alert"
	AlertACPowerLoss            AlertKey = "ac_power_loss"
	AlertExcessiveCurrent       AlertKey = "excessive_current"
	AlertExcessiveRunTime       AlertKey = "excessive_run_time"
	AlertBatteryChargeLevel     AlertKey = "battery_charge_level"
	AlertBackupExcessiveRunTime AlertKey = "backup_excessive_run_time"
	AlertBackupExcessiveCurrent AlertKey = "backup_excessive_current"
	AlertPrimaryPumpFailure     AlertKey = "primary_pump_failure"
	AlertBackupPumpFailure      AlertKey = "backup_pump_failure"
)

// StatusRecord is the current status of a device. Timestamps are epoch milliseconds.
type StatusRecord struct {
	DeviceID        FlexString `json:"deviceid"`
	UserNickname    string     `json:"user_nickname"`
	DeviceTypesName string     `json:"device_types_name"`
	HardwareRev     FlexString `json:"hardware_rev"`
	FirmwareRev     FlexString `json:"firmware_rev"`

	LastRSSI     int   `json:"last_rssi"`
	LastRSSITime int64 `json:"last_rssi_time"`

	BatteryChargePercentage float64 `json:"battery_charge_percentage"`
	BatteryVoltage          float64 `json:"battery_voltage"` // mV
	BatteryEstimatedLife    float64 `json:"battery_estimated_life"`
	BatteryTestedTime       int64   `json:"battery_tested_time"`
	BatteryUpdated          int64   `json:"battery_updated"`

	LastCycleTime       int64 `json:"lastcycletime"`
	CycleDuration       int64 `json:"cycleduration"` // ms
	BackupLastCycleTime int64 `json:"backup_lastcycletime"`
	BackupCycleDuration int64 `json:"backup_cycleduration"` // ms

	Connected              Alert `json:"connected"`
	HighWaterAlert         Alert `json:"high_water_alert"`
	ACPowerLoss            Alert `json:"ac_power_loss"`
	ExcessiveCurrent       Alert `json:"excessive_current"`
	ExcessiveRunTime       Alert `json:"excessive_run_time"`
	BatteryChargeLevel     Alert `json:"battery_charge_level"`
	BackupExcessiveRunTime Alert `json:"backup_excessive_run_time"`
	BackupExcessiveCurrent Alert `json:"backup_excessive_current"`
	PrimaryPumpFailure     Alert `json:"primary_pump_failure"`
	BackupPumpFailure      Alert `json:"backup_pump_failure"`
}

// Alert returns the alert named by key.
func (r StatusRecord) Alert(key AlertKey) (Alert, bool) {
	switch key {
	case AlertConnected:
		return r.Connected, true
	case AlertHighWater:
		return r.HighWaterAlert, true
	case AlertACPowerLoss:
		return r.ACPowerLoss, true
	case AlertExcessiveCurrent:
		return r.ExcessiveCurrent, true
	case AlertExcessiveRunTime:
		return r.ExcessiveRunTime, true
	case AlertBatteryChargeLevel:
		return r.BatteryChargeLevel, true
	case AlertBackupExcessiveRunTime:
		return r.BackupExcessiveRunTime, true
	case AlertBackupExcessiveCurrent:
		return r.BackupExcessiveCurrent, true
	case AlertPrimaryPumpFailure:
		return r.PrimaryPumpFailure, true
	case AlertBackupPumpFailure:
		return r.BackupPumpFailure, true
	}
	return Alert{}, false
}

// IntervalRecord is a precomputed rollup for one period bucket.
type IntervalRecord struct {
	YearNum    int     `json:"year_num"`
	MonthNum   int     `json:"month_num"`
	WeekNum    int     `json:"week_num"`
	DayNum     int     `json:"day_num"`
	TotalCount int     `json:"total_count"`
	Gallons    float64 `json:"gallons"`
}

// ParseTimestamp converts an API epoch-millisecond timestamp.
func ParseTimestamp(ts int64) time.Time {
	return time.UnixMilli(ts).UTC()
}
