package pumpspy

import (
	"fmt"
	"sort"
	"strings"
)

// DeviceTypeInfo selects the endpoint family for a device-type code.
type DeviceTypeInfo struct {
	Code             int    `json:"code"`
	Name             string `json:"name"`
	Endpoint         string `json:"endpoint"`
	IntervalEndpoint string `json:"interval_endpoint"`
	HasBackup        bool   `json:"has_backup"`
}

// Only code 3 has been observed against the live API. The sump and well
// endpoint names for codes 1 and 2 are unverified.
var deviceTypes = map[int]DeviceTypeInfo{
	1: {Code: 1, Name: "Sump Pump Monitor", Endpoint: "sump", IntervalEndpoint: "sump", HasBackup: false},
	2: {Code: 2, Name: "Well Pump Monitor", Endpoint: "well", IntervalEndpoint: "well", HasBackup: false},
	3: {Code: 3, Name: "Battery Backup System", Endpoint: "bbs", IntervalEndpoint: "bbs", HasBackup: true},
}

// LookupDeviceType returns the table entry for code, or a ConfigurationError.
func LookupDeviceType(code int) (DeviceTypeInfo, error) {
	info, ok := deviceTypes[code]
	if !ok {
		return DeviceTypeInfo{}, &ConfigurationError{
			Field:  "device_type",
			Reason: fmt.Sprintf("unsupported device type code %d, known codes are %s", code, knownCodes()),
		}
	}
	return info, nil
}

// HasBackup reports the backup-motor capability of code. Unknown codes have none.
func HasBackup(code int) bool {
	return deviceTypes[code].HasBackup
}

// DeviceTypes returns the known device types ordered by code.
func DeviceTypes() []DeviceTypeInfo {
	out := make([]DeviceTypeInfo, 0, len(deviceTypes))
	for _, info := range deviceTypes {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func knownCodes() string {
	codes := make([]string, 0, len(deviceTypes))
	for _, info := range DeviceTypes() {
		codes = append(codes, fmt.Sprintf("%d (%s)", info.Code, info.Name))
	}
	return strings.Join(codes, ", ")
}
