package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/langchou/pumpspy/internal/api/pumpspy"
)

// MotorIntervals holds the rollups of one motor keyed by interval.
type MotorIntervals map[pumpspy.Interval][]pumpspy.IntervalRecord

// Snapshot is the result of one refresh.
type Snapshot struct {
	DeviceID  string                           `json:"device_id"`
	FetchedAt time.Time                        `json:"fetched_at"`
	Current   []pumpspy.StatusRecord           `json:"current"`          // nil when the status fetch soft-failed
	Motors    map[pumpspy.Motor]MotorIntervals `json:"motors,omitempty"` // ac main, dc backup
}

// NewSnapshot creates an empty snapshot for deviceID.
func NewSnapshot(deviceID string) *Snapshot {
	return &Snapshot{
		DeviceID:  deviceID,
		FetchedAt: time.Now().UTC(),
		Motors:    make(map[pumpspy.Motor]MotorIntervals),
	}
}

// SetInterval stores the rollup of motor for interval.
func (s *Snapshot) SetInterval(motor pumpspy.Motor, interval pumpspy.Interval, records []pumpspy.IntervalRecord) {
	if s.Motors == nil {
		s.Motors = make(map[pumpspy.Motor]MotorIntervals)
	}
	m, ok := s.Motors[motor]
	if !ok {
		m = make(MotorIntervals)
		s.Motors[motor] = m
	}
	m[interval] = records
}

// Interval returns the first rollup record of motor for interval.
func (s *Snapshot) Interval(motor pumpspy.Motor, interval pumpspy.Interval) (pumpspy.IntervalRecord, bool) {
	records := s.Motors[motor][interval]
	if len(records) == 0 {
		return pumpspy.IntervalRecord{}, false
	}
	return records[0], true
}

// Status returns the meaningful status record.
func (s *Snapshot) Status() (pumpspy.StatusRecord, bool) {
	if len(s.Current) == 0 {
		return pumpspy.StatusRecord{}, false
	}
	return s.Current[0], true
}

// Value stores the snapshot as JSONB.
func (s Snapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan reads a JSONB snapshot.
func (s *Snapshot) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return fmt.Errorf("scan snapshot: unsupported type %T", value)
}
