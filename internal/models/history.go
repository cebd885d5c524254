package models

import (
	"fmt"
	"time"
)

// HistoryPeriod is the calendar day of a meter reading.
type HistoryPeriod struct {
	Year  int
	Month int
	Day   int
}

// PeriodOf returns the calendar day of t in its own location.
func PeriodOf(t time.Time) HistoryPeriod {
	return HistoryPeriod{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// Compare orders periods chronologically.
func (p HistoryPeriod) Compare(o HistoryPeriod) int {
	if p.Year != o.Year {
		return p.Year - o.Year
	}
	if p.Month != o.Month {
		return p.Month - o.Month
	}
	return p.Day - o.Day
}

// IsZero reports whether p is the zero period.
func (p HistoryPeriod) IsZero() bool {
	return p == HistoryPeriod{}
}

func (p HistoryPeriod) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", p.Year, p.Month, p.Day)
}

// HistoryEntry is one dated meter reading.
type HistoryEntry struct {
	guard       sharedLock
	collectedAt time.Time
	data        HistoryEntryData
}

func (h *HistoryEntry) load() (time.Time, HistoryEntryData) {
	defer h.guard.rlock()()
	return h.collectedAt, h.data
}

// CollectedAt is when the reading was taken.
func (h *HistoryEntry) CollectedAt() time.Time {
	at, _ := h.load()
	return at
}

// Period is the calendar day of the reading.
func (h *HistoryEntry) Period() HistoryPeriod { return PeriodOf(h.CollectedAt()) }

// Data returns the raw payload.
func (h *HistoryEntry) Data() HistoryEntryData {
	_, data := h.load()
	return data
}

// Value is the meter reading.
func (h *HistoryEntry) Value() int64 { return h.Data().Value.Int() }

// PreviousValue is the reading before this one.
func (h *HistoryEntry) PreviousValue() int64 { return h.Data().PreviousValue.Int() }

// Cost is the unit tariff.
func (h *HistoryEntry) Cost() float64 { return h.Data().Cost.Float() }

// Delta is the consumed volume: the explicit M3 value when reported, else value - previous.
func (h *HistoryEntry) Delta() int64 { return consumed(h.Data()) }

// Charged is cost × delta rounded to two places.
func (h *HistoryEntry) Charged() float64 {
	data := h.Data()
	return round2(data.Cost.Float() * float64(consumed(data)))
}

func (h *HistoryEntry) String() string {
	return fmt.Sprintf("HistoryEntry[%s]", h.Period())
}

func consumed(data HistoryEntryData) int64 {
	if data.HasM3 {
		return data.M3.Int()
	}
	return data.Value.Int() - data.PreviousValue.Int()
}
