package models

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// DeviceKind is the variant of a device, fixed when the device is created.
type DeviceKind int

const (
	// KindDevice is equipment without readings (stoves, boilers, pipelines).
	KindDevice DeviceKind = iota
	// KindMeter is a device that reports readings.
	KindMeter
)

func (k DeviceKind) String() string {
	if k == KindMeter {
		return "meter"
	}
	return "device"
}

// classify picks the variant for raw device data.
func classify(data DeviceData) DeviceKind {
	if data.Class().IsMeter() {
		return KindMeter
	}
	return KindDevice
}

// Device is one piece of equipment registered on a contract. Kind and
// contract number are fixed at creation; the payload is replaced on refresh.
type Device struct {
	meter          *Meter
	guard          sharedLock
	contractNumber string
	data           DeviceData
	kind           DeviceKind
}

func newDevice(guard sharedLock, contractNumber string, data DeviceData) *Device {
	d := &Device{
		guard:          guard,
		contractNumber: contractNumber,
		data:           data,
		kind:           classify(data),
	}
	if d.kind == KindMeter {
		d.meter = &Meter{Device: d, history: make(map[HistoryPeriod]*HistoryEntry)}
	}
	return d
}

// Kind returns the variant chosen at creation.
func (d *Device) Kind() DeviceKind { return d.kind }

// Meter returns the meter view of a meter-kind device.
func (d *Device) Meter() (*Meter, bool) {
	return d.meter, d.meter != nil
}

// ContractNumber is the owning contract.
func (d *Device) ContractNumber() string { return d.contractNumber }

// Data returns the raw payload.
func (d *Device) Data() DeviceData {
	defer d.guard.rlock()()
	return d.data
}

// ID is the portal device ID.
func (d *Device) ID() string { return string(d.Data().ID) }

// IsActive reports whether the device is not switched off (Status 1).
func (d *Device) IsActive() bool {
	status := d.Data().Status
	return status == nil || status.Int() != 1
}

// IsArchived reports whether the portal marks the device archived.
func (d *Device) IsArchived() bool {
	archived := d.Data().Archived
	return archived != nil && string(*archived) != "false"
}

// ClassCode returns the device class code.
func (d *Device) ClassCode() ClassCode { return d.Data().Class() }

// DeviceClass is the lower-case class name, "" for unknown codes.
func (d *Device) DeviceClass() string { return d.ClassCode().Name() }

// ClassName is the portal's human-readable class.
func (d *Device) ClassName() string { return string(d.Data().ClassName) }

// Model is the device model.
func (d *Device) Model() string { return string(d.Data().Model) }

// Manufacturer is the device maker.
func (d *Device) Manufacturer() string { return string(d.Data().ManfFirm) }

// Serial is the manufacturer's serial number.
func (d *Device) Serial() string { return string(d.Data().ManfNo) }

// Place is where the device is installed.
func (d *Device) Place() string { return string(d.Data().Place) }

// ManufactureDate returns the manufacture date when the portal reports one.
func (d *Device) ManufactureDate() (time.Time, bool) {
	return parseISODate(string(d.Data().ManfDate))
}

// EndOfLifeDate returns the end of service life when the portal reports one.
func (d *Device) EndOfLifeDate() (time.Time, bool) {
	return parseISODate(string(d.Data().ExplEndDate))
}

func (d *Device) String() string {
	if d.kind == KindMeter {
		return fmt.Sprintf("Meter[%s]", d.ID())
	}
	return fmt.Sprintf("Device[%s]", d.ID())
}

// ErrIndicationRegression is returned when a reading is lower than the last known one.
var ErrIndicationRegression = errors.New("new value is less than previous value")

// Meter is the reading-capable variant of a device. It shares identity with its Device.
type Meter struct {
	*Device
	history    map[HistoryPeriod]*HistoryEntry
	lastPeriod HistoryPeriod
}

// DateNextCheck is the next mandatory verification date.
func (m *Meter) DateNextCheck() (time.Time, bool) {
	return parseISODate(string(m.Data().DateNextCheck))
}

// History returns the accumulated readings by day.
func (m *Meter) History() map[HistoryPeriod]*HistoryEntry {
	defer m.guard.rlock()()
	return maps.Clone(m.history)
}

// HistoryLen returns the number of accumulated readings.
func (m *Meter) HistoryLen() int {
	defer m.guard.rlock()()
	return len(m.history)
}

// LastHistoryEntry returns the newest reading, or nil before any history arrived.
func (m *Meter) LastHistoryEntry() *HistoryEntry {
	defer m.guard.rlock()()
	return m.lastEntry()
}

func (m *Meter) lastEntry() *HistoryEntry {
	if m.lastPeriod.IsZero() {
		return nil
	}
	return m.history[m.lastPeriod]
}

// lastValue returns the newest reading value and whether one exists.
func (m *Meter) lastValue() (int64, bool) {
	last := m.lastEntry()
	if last == nil {
		return 0, false
	}
	return last.data.Value.Int(), true
}

type parsedReading struct {
	at   time.Time
	data HistoryEntryData
}

func parseReadings(values []HistoryEntryData) ([]parsedReading, error) {
	readings := make([]parsedReading, 0, len(values))
	for _, v := range values {
		at, err := v.Date.Time()
		if err != nil {
			return nil, fmt.Errorf("reading date: %w", err)
		}
		readings = append(readings, parsedReading{at: at, data: v})
	}
	return readings, nil
}

// mergeReadings adds readings to the history. Entries are never removed; the
// newest period is tracked while merging. It expects the write lock to be held.
func (m *Meter) mergeReadings(readings []parsedReading) Delta[HistoryPeriod] {
	byPeriod := make(map[HistoryPeriod]parsedReading, len(readings))
	keys := make([]HistoryPeriod, 0, len(readings))
	last := m.lastPeriod

	for _, r := range readings {
		period := PeriodOf(r.at)
		if period.Compare(last) > 0 {
			last = period
		}
		if _, dup := byPeriod[period]; !dup {
			keys = append(keys, period)
		}
		byPeriod[period] = r
	}

	delta := accumulate(m.history, keys, func(period HistoryPeriod, current *HistoryEntry, exists bool) (*HistoryEntry, bool) {
		r := byPeriod[period]
		if exists && current != nil {
			current.collectedAt = r.at
			current.data = r.data
			return current, false
		}
		return &HistoryEntry{guard: m.guard, collectedAt: r.at, data: r.data}, true
	})

	m.lastPeriod = last
	return delta
}

// CheckIndication rejects a value lower than the last known reading unless ignore is set.
func (m *Meter) CheckIndication(value float64, ignore bool) error {
	if ignore {
		return nil
	}
	defer m.guard.rlock()()
	if last, ok := m.lastValue(); ok && int64(value) < last {
		return fmt.Errorf("%w: %d < %d", ErrIndicationRegression, int64(value), last)
	}
	return nil
}

// ResolveIndication turns a submitted value into an absolute reading. Incremental
// values are added to the last known reading.
func (m *Meter) ResolveIndication(value float64, incremental bool) int64 {
	reading := int64(value)
	if incremental {
		defer m.guard.rlock()()
		if last, ok := m.lastValue(); ok {
			reading += last
		}
	}
	return reading
}
