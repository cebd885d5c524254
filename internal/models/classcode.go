package models

import (
	"strconv"
	"strings"
)

// ClassCode is the portal's device class identifier.
type ClassCode int

// Known device classes.
const (
	ClassUnknown          ClassCode = -1
	ClassMeterFirst       ClassCode = 10100
	ClassMeterSecond      ClassCode = 10101
	ClassMeterThird       ClassCode = 10102
	ClassStove            ClassCode = 102
	ClassHeater           ClassCode = 103
	ClassBoiler           ClassCode = 104
	ClassHeatingAppliance ClassCode = 105
	ClassOther            ClassCode = 106
	ClassOutdoorPipeline  ClassCode = 201
	ClassIndoorPipeline   ClassCode = 203
	ClassSecurityDevice   ClassCode = 204
	ClassConnectionValve  ClassCode = 206
	ClassRegulator        ClassCode = 401
)

var classCodeNames = map[ClassCode]string{
	ClassUnknown:          "UNKNOWN",
	ClassMeterFirst:       "METER_FIRST",
	ClassMeterSecond:      "METER_SECOND",
	ClassMeterThird:       "METER_THIRD",
	ClassStove:            "STOVE",
	ClassHeater:           "HEATER",
	ClassBoiler:           "BOILER",
	ClassHeatingAppliance: "HEATING_APPLIANCE",
	ClassOther:            "OTHER",
	ClassOutdoorPipeline:  "OUTDOOR_PIPELINE",
	ClassIndoorPipeline:   "INDOOR_PIPELINE",
	ClassSecurityDevice:   "SECURITY_DEVICE",
	ClassConnectionValve:  "CONNECTION_VALVE",
	ClassRegulator:        "REGULATOR",
}

// IsMeter reports whether devices of this class report readings.
func (c ClassCode) IsMeter() bool {
	switch c {
	case ClassMeterFirst, ClassMeterSecond, ClassMeterThird:
		return true
	default:
		return false
	}
}

// Name returns the lower-case class name, or "" for codes outside the known set.
func (c ClassCode) Name() string {
	return strings.ToLower(classCodeNames[c])
}

func (c ClassCode) String() string {
	if name, ok := classCodeNames[c]; ok {
		return name
	}
	return "CLASS_" + strconv.Itoa(int(c))
}
