package models

import (
	"sync"
	"time"
)

// The portal is offline for maintenance every day between these times, Moscow time.
const (
	blackoutStartHour   = 5
	blackoutStartMinute = 30
	blackoutEndHour     = 6
	blackoutEndMinute   = 0
)

var (
	moscowOnce sync.Once
	moscow     *time.Location
)

// MoscowLocation returns Europe/Moscow, or a fixed UTC+3 zone when tzdata is missing.
func MoscowLocation() *time.Location {
	moscowOnce.Do(func() {
		loc, err := time.LoadLocation("Europe/Moscow")
		if err != nil {
			loc = time.FixedZone("MSK", 3*60*60)
		}
		moscow = loc
	})
	return moscow
}

// TodayBlackout returns the maintenance window of the day containing now.
func TodayBlackout(now time.Time) (start, end time.Time) {
	local := now.In(MoscowLocation())
	y, m, d := local.Date()
	start = time.Date(y, m, d, blackoutStartHour, blackoutStartMinute, 0, 0, local.Location())
	end = time.Date(y, m, d, blackoutEndHour, blackoutEndMinute, 0, 0, local.Location())
	return start, end
}

// InBlackout reports whether now falls inside the daily maintenance window.
func InBlackout(now time.Time) bool {
	start, end := TodayBlackout(now)
	return !now.Before(start) && now.Before(end)
}
