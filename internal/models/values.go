package models

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Number decodes JSON numbers, numeric strings and null (as zero).
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		*n = 0
		return nil
	}
	if bytes.Equal(raw, []byte("true")) {
		*n = 1
		return nil
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		text = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if text == "" {
			*n = 0
			return nil
		}
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", raw, err)
	}
	*n = Number(f)
	return nil
}

// Float returns the value as float64.
func (n Number) Float() float64 {
	return float64(n)
}

// Int truncates the value toward zero.
func (n Number) Int() int64 {
	return int64(n)
}

// Text decodes JSON strings, numbers, booleans and null (as "") into a string.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		*t = ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*t = Text(s)
	case raw[0] == '{' || raw[0] == '[':
		return fmt.Errorf("cannot decode %s into text", raw)
	default:
		*t = Text(raw)
	}
	return nil
}

func (t Text) String() string {
	return string(t)
}

// DateDict is the portal's {date, timezone} timestamp representation.
type DateDict struct {
	Date     string `json:"date"`
	Timezone string `json:"timezone"`
}

var dateDictLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Time resolves the dict into a time in its named zone. Unknown zones fall back to UTC.
func (d DateDict) Time() (time.Time, error) {
	loc := resolveLocation(d.Timezone)
	value := strings.TrimSpace(d.Date)
	for _, layout := range dateDictLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", d.Date)
}

func resolveLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	// Offsets such as "+03:00"
	if len(name) == 6 && (name[0] == '+' || name[0] == '-') && name[3] == ':' {
		hours, errH := strconv.Atoi(name[1:3])
		minutes, errM := strconv.Atoi(name[4:6])
		if errH == nil && errM == nil {
			offset := hours*3600 + minutes*60
			if name[0] == '-' {
				offset = -offset
			}
			return time.FixedZone(name, offset)
		}
	}
	return time.UTC
}

// parseISODate parses the date part of an ISO date or datetime string.
func parseISODate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if len(value) < len("2006-01-02") {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", value[:10])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// round2 rounds to two decimal places, half to even.
func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
