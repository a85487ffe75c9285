package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
	"github.com/langchou/pumpspy/internal/models"
)

var now = time.Date(2026, time.October, 17, 9, 30, 0, 0, time.UTC)

func byKey(readings []Reading) map[string]Reading {
	out := make(map[string]Reading, len(readings))
	for _, r := range readings {
		out[r.Key] = r
	}
	return out
}

func testSnapshot() *models.Snapshot {
	snap := models.NewSnapshot("1234")
	snap.Current = []pumpspy.StatusRecord{{
		DeviceID:                "1234",
		UserNickname:            "Basement",
		DeviceTypesName:         "Battery Backup System",
		FirmwareRev:             "2.1",
		LastRSSI:                -67,
		LastRSSITime:            1760693400000,
		BatteryChargePercentage: 88,
		BatteryVoltage:          12850,
		BatteryEstimatedLife:    3.456,
		LastCycleTime:           1760693400000,
		CycleDuration:           12345,
		Connected:               pumpspy.Alert{State: true, Message: "Online"},
		HighWaterAlert:          pumpspy.Alert{State: false, Message: "Normal"},
		BatteryChargeLevel:      pumpspy.Alert{State: false, Message: "Battery low"},
	}}
	_, week := now.ISOWeek()
	snap.SetInterval(pumpspy.MotorMain, pumpspy.IntervalDay, []pumpspy.IntervalRecord{{YearNum: 2026, MonthNum: 10, DayNum: 17, TotalCount: 9, Gallons: 36.5}})
	snap.SetInterval(pumpspy.MotorMain, pumpspy.IntervalWeek, []pumpspy.IntervalRecord{{YearNum: 2026, WeekNum: week - 1, TotalCount: 40, Gallons: 160}})
	snap.SetInterval(pumpspy.MotorMain, pumpspy.IntervalMonth, []pumpspy.IntervalRecord{{YearNum: 2025, MonthNum: 10, TotalCount: 300, Gallons: 1200}})
	snap.SetInterval(pumpspy.MotorBackup, pumpspy.IntervalDay, []pumpspy.IntervalRecord{{YearNum: 2026, MonthNum: 10, DayNum: 17, TotalCount: 1, Gallons: 4}})
	return snap
}

func TestSensors_BackupDevice(t *testing.T) {
	info := models.DeviceInfo{DeviceID: "1234", DeviceName: "Basement", DeviceType: 3, HasBackup: true}
	readings := byKey(Sensors(info, testSnapshot(), now))

	// rssi, battery, 12 totals, 2 last cycles
	assert.Len(t, readings, 16)

	rssi := readings["rssi"]
	assert.Equal(t, "1234_rssi", rssi.UniqueID)
	assert.Equal(t, "Basement RSSI", rssi.Name)
	assert.Equal(t, -67, rssi.Value)
	assert.Equal(t, time.UnixMilli(1760693400000).UTC(), rssi.Attributes["last_rssi_time"])

	battery := readings["battery"]
	assert.InDelta(t, 88, battery.Value, 0.001)
	assert.InDelta(t, 12.85, battery.Attributes["voltage"], 0.0001)
	assert.InDelta(t, 3.5, battery.Attributes["estimated_life"], 0.0001)
	assert.Nil(t, battery.Attributes["tested_time"])

	daily := readings["main_daily_cycles"]
	assert.True(t, daily.Available)
	assert.Equal(t, 9, daily.Value)
	assert.Equal(t, "Basement Main Daily Cycles", daily.Name)
	assert.Equal(t, "1234_main_daily_cycles", daily.UniqueID)
	assert.InDelta(t, 36.5, readings["main_daily_gallons"].Value, 0.001)
	assert.Equal(t, "gal", readings["main_daily_gallons"].Unit)

	// finished periods read as zero
	assert.Equal(t, 0, readings["main_weekly_cycles"].Value)
	assert.Equal(t, 0, readings["main_monthly_gallons"].Value)

	// slots that were not fetched are unavailable, not zero
	monthlyBackup := readings["backup_monthly_cycles"]
	assert.False(t, monthlyBackup.Available)
	assert.Nil(t, monthlyBackup.Value)

	last := readings["main_last_cycle"]
	assert.Equal(t, "Basement Main Last Cycle", last.Name)
	assert.Equal(t, time.UnixMilli(1760693400000).UTC(), last.Value)
	assert.InDelta(t, 12.3, last.Attributes["duration"], 0.0001)
}

func TestSensors_NoBackupDevice(t *testing.T) {
	info := models.DeviceInfo{DeviceID: "1234", DeviceName: "Well", DeviceType: 2}
	readings := byKey(Sensors(info, testSnapshot(), now))

	assert.Len(t, readings, 9)
	_, ok := readings["backup_daily_cycles"]
	assert.False(t, ok)
	_, ok = readings["backup_last_cycle"]
	assert.False(t, ok)
}

func TestSensors_MissingStatus(t *testing.T) {
	info := models.DeviceInfo{DeviceID: "1234", DeviceName: "Basement"}
	snap := testSnapshot()
	snap.Current = nil

	readings := byKey(Sensors(info, snap, now))
	assert.False(t, readings["rssi"].Available)
	assert.Nil(t, readings["rssi"].Value)
	assert.True(t, readings["main_daily_cycles"].Available)

	readings = byKey(Sensors(info, nil, now))
	assert.False(t, readings["main_daily_cycles"].Available)
}

func TestBinarySensors(t *testing.T) {
	info := models.DeviceInfo{DeviceID: "1234", DeviceName: "Basement", HasBackup: true}
	readings := byKey(BinarySensors(info, testSnapshot()))
	require.Len(t, readings, 10)

	connected := readings["connected"]
	assert.Equal(t, ClassConnectivity, connected.DeviceClass)
	assert.Equal(t, true, connected.Value)
	assert.Equal(t, "Online", connected.Attributes["message"])

	highWater := readings["high_water_alert"]
	assert.Equal(t, ClassProblem, highWater.DeviceClass)
	assert.Equal(t, "Basement High Water Alert", highWater.Name)
	assert.Equal(t, false, highWater.Value)

	// reported state false means the charge level is not ok
	assert.Equal(t, true, readings["battery_charge_level"].Value)
	assert.Equal(t, "Battery low", readings["battery_charge_level"].Attributes["message"])

	info.HasBackup = false
	readings = byKey(BinarySensors(info, testSnapshot()))
	assert.Len(t, readings, 5)
	_, ok := readings["backup_pump_failure"]
	assert.False(t, ok)
}

func TestCurrentPeriod(t *testing.T) {
	_, week := now.ISOWeek()
	tests := []struct {
		name     string
		rec      pumpspy.IntervalRecord
		interval pumpspy.Interval
		want     bool
	}{
		{"today", pumpspy.IntervalRecord{YearNum: 2026, MonthNum: 10, DayNum: 17}, pumpspy.IntervalDay, true},
		{"yesterday", pumpspy.IntervalRecord{YearNum: 2026, MonthNum: 10, DayNum: 16}, pumpspy.IntervalDay, false},
		{"same day last month", pumpspy.IntervalRecord{YearNum: 2026, MonthNum: 9, DayNum: 17}, pumpspy.IntervalDay, false},
		{"this week", pumpspy.IntervalRecord{YearNum: 2026, WeekNum: week}, pumpspy.IntervalWeek, true},
		{"last year same week", pumpspy.IntervalRecord{YearNum: 2025, WeekNum: week}, pumpspy.IntervalWeek, false},
		{"this month", pumpspy.IntervalRecord{YearNum: 2026, MonthNum: 10}, pumpspy.IntervalMonth, true},
		{"last month", pumpspy.IntervalRecord{YearNum: 2026, MonthNum: 9}, pumpspy.IntervalMonth, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CurrentPeriod(tt.rec, tt.interval, now))
		})
	}
}

func TestCurrentPeriod_WeekAcrossNewYear(t *testing.T) {
	// 2027-01-01 falls in week 53 of ISO year 2026
	newYear := time.Date(2027, time.January, 1, 8, 0, 0, 0, time.UTC)

	assert.True(t, CurrentPeriod(pumpspy.IntervalRecord{YearNum: 2026, WeekNum: 53}, pumpspy.IntervalWeek, newYear))
	assert.False(t, CurrentPeriod(pumpspy.IntervalRecord{YearNum: 2027, WeekNum: 53}, pumpspy.IntervalWeek, newYear))
	assert.False(t, CurrentPeriod(pumpspy.IntervalRecord{YearNum: 2027, WeekNum: 1}, pumpspy.IntervalWeek, newYear))
	assert.True(t, CurrentPeriod(pumpspy.IntervalRecord{YearNum: 2027, MonthNum: 1, DayNum: 1}, pumpspy.IntervalDay, newYear))
}

func TestDeviceMeta(t *testing.T) {
	info := models.DeviceInfo{DeviceID: "1234", DeviceName: "Setup Name"}

	d := DeviceMeta(info, nil)
	assert.Equal(t, "Setup Name", d.Name)
	assert.Equal(t, Manufacturer, d.Manufacturer)

	d = DeviceMeta(info, testSnapshot())
	assert.Equal(t, "Basement", d.Name)
	assert.Equal(t, "Battery Backup System", d.Model)
	assert.Equal(t, "2.1", d.SWVersion)
}
