// Package civiltime converts between clinic-local wall clock strings and
// absolute instants. The clinic runs on a fixed UTC+7 offset with no
// daylight saving.
package civiltime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Layout is the civil date-time format stored on appointments.
	Layout = "2006-01-02 15:04"
	// DateLayout is the civil date format.
	DateLayout = "2006-01-02"

	offsetSeconds = 7 * 60 * 60
)

// Zone is the fixed UTC+7 location used for every civil conversion.
var Zone = time.FixedZone("UTC+7", offsetSeconds)

// ErrFormat is matched by every FormatError.
var ErrFormat = errors.New("invalid time format")

// FormatError reports input that does not match an accepted time format.
type FormatError struct {
	Input    string
	Expected string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time format %q, expected %s", e.Input, e.Expected)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

var twelveHourPattern = regexp.MustCompile(`(?i)^(\d{1,2}):(\d{2})\s*(AM|PM)$`)

// ToUTC parses a "YYYY-MM-DD HH:mm" civil string and returns the UTC instant.
func ToUTC(local string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, strings.TrimSpace(local), Zone)
	if err != nil {
		return time.Time{}, &FormatError{Input: local, Expected: `"YYYY-MM-DD HH:mm"`}
	}
	return t.UTC(), nil
}

// FromUTC renders an instant as a civil "YYYY-MM-DD HH:mm" string.
func FromUTC(t time.Time) string {
	return t.In(Zone).Format(Layout)
}

// InZone returns t expressed in civil time.
func InZone(t time.Time) time.Time {
	return t.In(Zone)
}

// ReminderDue is the instant the pre-visit reminder becomes due.
func ReminderDue(startUTC time.Time) time.Time {
	return startUTC.Add(-2 * time.Hour)
}

// DayBounds returns the UTC [start, end) bounds of the civil day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(Zone)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Zone)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// To12Hour converts "HH:mm" to "hh:mm AM/PM". Input that is not a valid
// 24-hour time is returned unchanged.
func To12Hour(hhmm string) string {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return hhmm
	}
	return t.Format("03:04 PM")
}

// To24Hour converts "h:mm AM/PM" (case-insensitive, optional space) to "HH:mm".
// To12Hour(To24Hour(s)) gives s back only for the canonical "hh:mm AM" form;
// other accepted spellings come back normalized.
func To24Hour(s string) (string, error) {
	m := twelveHourPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", &FormatError{Input: s, Expected: `"hh:mm AM/PM"`}
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return "", &FormatError{Input: s, Expected: `"hh:mm AM/PM"`}
	}

	hour %= 12
	if strings.EqualFold(m[3], "PM") {
		hour += 12
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// DisplayTime renders an instant as a 12-hour civil clock time.
func DisplayTime(t time.Time) string {
	return To12Hour(t.In(Zone).Format("15:04"))
}

// WithinBusinessHours reports whether t falls Monday through Saturday,
// 08:00 to 17:00 civil time.
func WithinBusinessHours(t time.Time) bool {
	local := t.In(Zone)
	if local.Weekday() == time.Sunday {
		return false
	}
	hour := local.Hour()
	return hour >= 8 && hour < 17
}
