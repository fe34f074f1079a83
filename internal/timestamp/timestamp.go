// Package timestamp implements the 8-byte packed transaction serial used by
// PersistentObject as its _p_serial: a calendar instant compared, hashed, and
// formatted byte-lexicographically.
//
// Wire format (big-endian, 8 bytes total):
//
//	bytes 0-3: minutes since 1900-01-01 00:00, packed as a uint32.
//	bytes 4-7: floor(sec / B), packed as a uint32, where B = 60 / 2^32.
//
// The minutes field counts using a fictitious calendar of 31-day months and
// 12-month years, so packing is pure arithmetic; FromDate validates its
// inputs against true Gregorian month lengths before packing, and the same
// arithmetic decodes the fields back out. Ordering, equality, and hashing
// are all defined on the raw 8 bytes, which also happens to be calendar
// order.
//
// © 2025 go-persistent authors. MIT License.
package timestamp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// secondUnit is B = 60 / 2^32 seconds, the quantum of the low 4 bytes.
const secondUnit = 60.0 / 4294967296.0

// TimeStamp is the raw 8-byte packed value.
type TimeStamp [8]byte

// daysInMonth returns the true Gregorian number of days in month (1-based)
// of year y.
func daysInMonth(y, m int) int {
	const (
		jan = 31
	)
	lengths := [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	if m == 2 && isLeap(y) {
		return 29
	}
	_ = jan
	return lengths[m-1]
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// OutOfRangeError reports an invalid calendar field passed to FromDate.
type OutOfRangeError struct {
	Field string
	Value int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("timestamp: %s out of range: %d", e.Field, e.Value)
}

// FromBytes copies an 8-byte wire value into a TimeStamp.
func FromBytes(b [8]byte) TimeStamp { return TimeStamp(b) }

// FromDate validates and packs a calendar instant. sec may be negative or
// >= 60; it is deliberately not range-checked, so callers can express
// leap-second-ish or carried values.
func FromDate(year, month, day, hour, minute int, sec float64) (TimeStamp, error) {
	if year < 1900 {
		return TimeStamp{}, &OutOfRangeError{"year", year}
	}
	if month < 1 || month > 12 {
		return TimeStamp{}, &OutOfRangeError{"month", month}
	}
	if day < 1 || day > daysInMonth(year, month) {
		return TimeStamp{}, &OutOfRangeError{"day", day}
	}
	if hour < 0 || hour > 23 {
		return TimeStamp{}, &OutOfRangeError{"hour", hour}
	}
	if minute < 0 || minute > 59 {
		return TimeStamp{}, &OutOfRangeError{"minute", minute}
	}

	// Fictitious calendar: 31-day months, 12-month years.
	minutes := uint32((((year-1900)*12 + (month - 1)) * 31 * 1440) + (day-1)*1440 + hour*60 + minute)
	// Route through int64 rather than converting the float directly to
	// uint32: Go's float->uint32 conversion is implementation-specific once
	// the value is negative or out of range, and sec is allowed to be
	// negative or >= 60.
	ticks := uint32(int64(sec / secondUnit))

	var ts TimeStamp
	binary.BigEndian.PutUint32(ts[0:4], minutes)
	binary.BigEndian.PutUint32(ts[4:8], ticks)
	return ts, nil
}

// Raw returns the packed 8-byte form.
func (t TimeStamp) Raw() [8]byte { return [8]byte(t) }

// IsZero reports whether t is the all-zero "never saved" serial.
func (t TimeStamp) IsZero() bool { return t == TimeStamp{} }

func (t TimeStamp) minutesField() uint32 { return binary.BigEndian.Uint32(t[0:4]) }
func (t TimeStamp) ticksField() uint32   { return binary.BigEndian.Uint32(t[4:8]) }

// unpack decomposes the fictitious-calendar minutes field into y/mo/d/h/mi,
// using the same 31-day/12-month arithmetic FromDate used to pack it.
func (t TimeStamp) unpack() (year, month, day, hour, minute int) {
	m := int(t.minutesField())
	minute = m % 60
	m /= 60
	hour = m % 24
	m /= 24
	day = m%31 + 1
	m /= 31
	month = m%12 + 1
	m /= 12
	year = m + 1900
	return
}

// Year, Month, Day, Hour, Minute, Second return the unpacked fields. Month
// and Day are 1-based. Second includes the sub-second fraction.
func (t TimeStamp) Year() int   { y, _, _, _, _ := t.unpack5(); return y }
func (t TimeStamp) Month() int  { _, mo, _, _, _ := t.unpack5(); return mo }
func (t TimeStamp) Day() int    { _, _, d, _, _ := t.unpack5(); return d }
func (t TimeStamp) Hour() int   { _, _, _, h, _ := t.unpack5(); return h }
func (t TimeStamp) Minute() int { _, _, _, _, mi := t.unpack5(); return mi }

func (t TimeStamp) unpack5() (year, month, day, hour, minute int) { return t.unpack() }

// Second returns the seconds-within-the-minute field, including fraction.
func (t TimeStamp) Second() float64 {
	return float64(t.ticksField()) * secondUnit
}

// Compare returns -1, 0, or 1 comparing the raw bytes of t and other
// lexicographically, which is also calendar order.
func (t TimeStamp) Compare(other TimeStamp) int {
	for i := range t {
		if t[i] != other[i] {
			if t[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equal reports bytewise equality.
func (t TimeStamp) Equal(other TimeStamp) bool { return t == other }

// Before reports whether t sorts strictly before other.
func (t TimeStamp) Before(other TimeStamp) bool { return t.Compare(other) < 0 }

// After reports whether t sorts strictly after other.
func (t TimeStamp) After(other TimeStamp) bool { return t.Compare(other) > 0 }

// LaterThan returns t if t is strictly greater than other, else the smallest
// TimeStamp that is strictly greater than other. The increment carries
// through the seconds-ticks field into minutes, then through
// minute->hour->day->month->year using true Gregorian month lengths, with
// the ticks field reset to zero on carry so the result is minimally greater.
func (t TimeStamp) LaterThan(other TimeStamp) TimeStamp {
	if t.Compare(other) > 0 {
		return t
	}
	return other.increment()
}

// increment returns the smallest TimeStamp strictly greater than t.
func (t TimeStamp) increment() TimeStamp {
	ticks := t.ticksField()
	if ticks < 0xFFFFFFFF {
		var out TimeStamp
		binary.BigEndian.PutUint32(out[0:4], t.minutesField())
		binary.BigEndian.PutUint32(out[4:8], ticks+1)
		return out
	}

	year, month, day, hour, minute := t.unpack()
	minute++
	if minute == 60 {
		minute = 0
		hour++
		if hour == 24 {
			hour = 0
			day++
			if day > daysInMonth(year, month) {
				day = 1
				month++
				if month > 12 {
					month = 1
					year++
				}
			}
		}
	}
	out, err := FromDate(year, month, day, hour, minute, 0)
	if err != nil {
		// year/month/day/hour/minute were derived from a valid TimeStamp
		// and incremented by at most one unit each; FromDate cannot reject
		// them.
		panic(err)
	}
	return out
}

// String renders "YYYY-MM-DD HH:MM:SS.ffffff". The seconds field is printed
// through %09.6f so the lossy tick quantization rounds back to the nearest
// microsecond instead of truncating one low.
func (t TimeStamp) String() string {
	y, mo, d, h, mi := t.unpack()
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%09.6f", y, mo, d, h, mi, t.Second())
}

// GoString renders the raw bytes' debug form.
func (t TimeStamp) GoString() string {
	return fmt.Sprintf("TimeStamp(%#v)", [8]byte(t))
}

// TimeTime converts t to seconds since the Unix epoch.
// Year/Month/Day/Hour/Minute/Second round-trip exactly against FromDate's
// inputs, so the conversion feeds them through a single Gregorian calendar
// (time.Date); the fictitious 31-day-month arithmetic only ever affects the
// packed representation, never the decoded instant.
func (t TimeStamp) TimeTime() float64 {
	y, mo, d, h, mi := t.unpack()
	sec := t.Second()
	whole := int64(sec)
	frac := sec - float64(whole)
	instant := time.Date(y, time.Month(mo), d, h, mi, int(whole), 0, time.UTC)
	return float64(instant.Unix()) + frac
}
