// Package adapter maps snapshots onto Home Assistant style sensor readings.
package adapter

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/models"
)

// Manufacturer is reported in device metadata.
const Manufacturer = "Pumpspy"

// Platform is the entity kind of a reading.
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
)

// Device classes
const (
	ClassSignalStrength = "signal_strength"
	ClassBattery        = "battery"
	ClassTimestamp      = "timestamp"
	ClassConnectivity   = "connectivity"
	ClassProblem        = "problem"
)

// Reading is one entity value derived from a snapshot.
type Reading struct {
	UniqueID       string         `json:"unique_id"`
	Key            string         `json:"key"`
	Name           string         `json:"name"`
	Platform       Platform       `json:"platform"`
	DeviceClass    string         `json:"device_class,omitempty"`
	StateClass     string         `json:"state_class,omitempty"`
	Unit           string         `json:"unit_of_measurement,omitempty"`
	EntityCategory string         `json:"entity_category,omitempty"`
	Available      bool           `json:"available"`
	Value          any            `json:"value"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Device describes the physical device the readings belong to.
type Device struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model,omitempty"`
	HWVersion    string `json:"hw_version,omitempty"`
	SWVersion    string `json:"sw_version,omitempty"`
}

// title upper-cases the first letter of every word. Casers are stateful, so one per call.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// UniqueID builds the stable entity id of key.
func UniqueID(deviceID, key string) string {
	return strings.ReplaceAll(slug.Make(deviceID+"_"+key), "-", "_")
}

// DeviceMeta prefers the status record and falls back to setup info.
func DeviceMeta(info models.DeviceInfo, snap *models.Snapshot) Device {
	d := Device{
		Identifier:   info.DeviceID,
		Name:         info.DeviceName,
		Manufacturer: Manufacturer,
	}
	if snap == nil {
		return d
	}
	if status, ok := snap.Status(); ok {
		if status.UserNickname != "" {
			d.Name = status.UserNickname
		}
		d.Model = status.DeviceTypesName
		d.HWVersion = status.HardwareRev.String()
		d.SWVersion = status.FirmwareRev.String()
	}
	return d
}

// Readings returns every sensor and binary sensor of the device.
func Readings(info models.DeviceInfo, snap *models.Snapshot, now time.Time) []Reading {
	return append(Sensors(info, snap, now), BinarySensors(info, snap)...)
}

// Sensors returns the numeric and timestamp sensors.
func Sensors(info models.DeviceInfo, snap *models.Snapshot, now time.Time) []Reading {
	status, ok := statusOf(snap)
	out := []Reading{
		rssiSensor(info, status, ok),
		batterySensor(info, status, ok),
	}

	pumps := []pump{pumpMain}
	if info.HasBackup {
		pumps = append(pumps, pumpBackup)
	}
	for _, interval := range []pumpspy.Interval{pumpspy.IntervalDay, pumpspy.IntervalWeek, pumpspy.IntervalMonth} {
		for _, p := range pumps {
			for _, kind := range []totalKind{totalCycles, totalGallons} {
				out = append(out, totalSensor(info, snap, p, kind, interval, now))
			}
		}
	}
	for _, p := range pumps {
		out = append(out, lastCycleSensor(info, status, ok, p))
	}
	return out
}

func statusOf(snap *models.Snapshot) (pumpspy.StatusRecord, bool) {
	if snap == nil {
		return pumpspy.StatusRecord{}, false
	}
	return snap.Status()
}

func rssiSensor(info models.DeviceInfo, status pumpspy.StatusRecord, ok bool) Reading {
	r := Reading{
		UniqueID:    UniqueID(info.DeviceID, "rssi"),
		Key:         "rssi",
		Name:        info.DeviceName + " RSSI",
		Platform:    PlatformSensor,
		DeviceClass: ClassSignalStrength,
		Unit:        "dBm",
		Available:   ok,
	}
	if ok {
		r.Value = status.LastRSSI
		r.Attributes = map[string]any{"last_rssi_time": timestamp(status.LastRSSITime)}
	}
	return r
}

func batterySensor(info models.DeviceInfo, status pumpspy.StatusRecord, ok bool) Reading {
	r := Reading{
		UniqueID:    UniqueID(info.DeviceID, "battery"),
		Key:         "battery",
		Name:        info.DeviceName + " Battery",
		Platform:    PlatformSensor,
		DeviceClass: ClassBattery,
		Unit:        "%",
		Available:   ok,
	}
	if ok {
		r.Value = status.BatteryChargePercentage
		r.Attributes = map[string]any{
			"voltage":        status.BatteryVoltage / 1000,
			"estimated_life": round1(status.BatteryEstimatedLife),
			"tested_time":    timestamp(status.BatteryTestedTime),
			"updated":        timestamp(status.BatteryUpdated),
		}
	}
	return r
}

type pump string

const (
	pumpMain   pump = "main"
	pumpBackup pump = "backup"
)

func (p pump) motor() pumpspy.Motor {
	if p == pumpBackup {
		return pumpspy.MotorBackup
	}
	return pumpspy.MotorMain
}

type totalKind string

const (
	totalCycles  totalKind = "cycles"
	totalGallons totalKind = "gallons"
)

// periodName is the adjective form used in entity names.
func periodName(interval pumpspy.Interval) string {
	switch interval {
	case pumpspy.IntervalDay:
		return "daily"
	case pumpspy.IntervalWeek:
		return "weekly"
	default:
		return "monthly"
	}
}

func totalSensor(info models.DeviceInfo, snap *models.Snapshot, p pump, kind totalKind, interval pumpspy.Interval, now time.Time) Reading {
	period := periodName(interval)
	key := fmt.Sprintf("%s_%s_%s", p, period, kind)
	r := Reading{
		UniqueID:   UniqueID(info.DeviceID, key),
		Key:        key,
		Name:       info.DeviceName + " " + title(fmt.Sprintf("%s %s %s", p, period, kind)),
		Platform:   PlatformSensor,
		StateClass: "total_increasing",
	}
	if kind == totalGallons {
		r.Unit = "gal"
	}
	if snap == nil {
		return r
	}

	rec, ok := snap.Interval(p.motor(), interval)
	if !ok {
		return r
	}
	r.Available = true
	if !CurrentPeriod(rec, interval, now) {
		r.Value = 0
		return r
	}
	if kind == totalCycles {
		r.Value = rec.TotalCount
	} else {
		r.Value = rec.Gallons
	}
	return r
}

// CurrentPeriod reports whether rec is the bucket of interval that contains now.
// Rollups of a finished period read as zero until the vendor starts a new bucket.
// Weekly buckets are numbered by ISO week, so they carry the ISO year.
func CurrentPeriod(rec pumpspy.IntervalRecord, interval pumpspy.Interval, now time.Time) bool {
	switch interval {
	case pumpspy.IntervalWeek:
		year, week := now.ISOWeek()
		return rec.YearNum == year && rec.WeekNum == week
	case pumpspy.IntervalDay:
		return rec.YearNum == now.Year() && rec.MonthNum == int(now.Month()) && rec.DayNum == now.Day()
	case pumpspy.IntervalMonth:
		return rec.YearNum == now.Year() && rec.MonthNum == int(now.Month())
	}
	return false
}

func lastCycleSensor(info models.DeviceInfo, status pumpspy.StatusRecord, ok bool, p pump) Reading {
	key := string(p) + "_last_cycle"
	r := Reading{
		UniqueID:    UniqueID(info.DeviceID, key),
		Key:         key,
		Name:        fmt.Sprintf("%s %s Last Cycle", info.DeviceName, title(string(p))),
		Platform:    PlatformSensor,
		DeviceClass: ClassTimestamp,
		Available:   ok,
	}
	if !ok {
		return r
	}

	cycleTime, duration := status.LastCycleTime, status.CycleDuration
	if p == pumpBackup {
		cycleTime, duration = status.BackupLastCycleTime, status.BackupCycleDuration
	}
	r.Value = timestamp(cycleTime)
	r.Attributes = map[string]any{"duration": round1(float64(duration) / 1000)}
	return r
}

var (
	baseAlerts = []pumpspy.AlertKey{
		pumpspy.AlertConnected,
		pumpspy.AlertHighWater,
		pumpspy.AlertACPowerLoss,
		pumpspy.AlertExcessiveCurrent,
		pumpspy.AlertExcessiveRunTime,
	}
	backupAlerts = []pumpspy.AlertKey{
		pumpspy.AlertPrimaryPumpFailure,
		pumpspy.AlertBatteryChargeLevel,
		pumpspy.AlertBackupExcessiveCurrent,
		pumpspy.AlertBackupExcessiveRunTime,
		pumpspy.AlertBackupPumpFailure,
	}
)

// BinarySensors returns the alert flags. Backup alerts exist only on backup devices.
func BinarySensors(info models.DeviceInfo, snap *models.Snapshot) []Reading {
	keys := baseAlerts
	if info.HasBackup {
		keys = append(append([]pumpspy.AlertKey(nil), baseAlerts...), backupAlerts...)
	}

	status, ok := statusOf(snap)
	out := make([]Reading, 0, len(keys))
	for _, key := range keys {
		out = append(out, alertSensor(info, status, ok, key))
	}
	return out
}

func alertSensor(info models.DeviceInfo, status pumpspy.StatusRecord, ok bool, key pumpspy.AlertKey) Reading {
	class := ClassProblem
	if key == pumpspy.AlertConnected {
		class = ClassConnectivity
	}
	r := Reading{
		UniqueID:       UniqueID(info.DeviceID, string(key)),
		Key:            string(key),
		Name:           info.DeviceName + " " + title(strings.ReplaceAll(string(key), "_", " ")),
		Platform:       PlatformBinarySensor,
		DeviceClass:    class,
		EntityCategory: "diagnostic",
		Available:      ok,
	}
	if !ok {
		return r
	}

	alert, _ := status.Alert(key)
	on := alert.State
	// the vendor reports "charge level ok"; the entity is on when there is a problem
	if key == pumpspy.AlertBatteryChargeLevel {
		on = !on
	}
	r.Value = on
	r.Attributes = map[string]any{"message": alert.Message}
	return r
}

func timestamp(ms int64) any {
	if ms == 0 {
		return nil
	}
	return pumpspy.ParseTimestamp(ms)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
