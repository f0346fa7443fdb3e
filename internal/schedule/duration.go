// Package schedule provides a time-ordered queue of deferred actions driven
// from a single goroutine. Nothing in this package spawns goroutines or
// timers: the owner calls Run on every loop iteration and due actions fire
// synchronously.
package schedule

import (
	"fmt"
	"time"
)

// Unit is the granularity of a symbolic Duration.
type Unit int

// Supported units.
const (
	UnitSecond Unit = iota
	UnitMinute
	UnitHour
	UnitDay
	UnitWeek
)

func (u Unit) String() string {
	switch u {
	case UnitSecond:
		return "s"
	case UnitMinute:
		return "m"
	case UnitHour:
		return "h"
	case UnitDay:
		return "d"
	case UnitWeek:
		return "w"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// Duration is a symbolic delay. Days and weeks shift calendar dates when
// applied to a time, so a one-day delay across a DST change still lands on
// the same wall-clock hour.
type Duration struct {
	Unit   Unit
	Amount int
}

// Seconds returns a Duration of n seconds.
func Seconds(n int) Duration { return Duration{Unit: UnitSecond, Amount: n} }

// Minutes returns a Duration of n minutes.
func Minutes(n int) Duration { return Duration{Unit: UnitMinute, Amount: n} }

// Hours returns a Duration of n hours.
func Hours(n int) Duration { return Duration{Unit: UnitHour, Amount: n} }

// Days returns a Duration of n days.
func Days(n int) Duration { return Duration{Unit: UnitDay, Amount: n} }

// Weeks returns a Duration of n weeks.
func Weeks(n int) Duration { return Duration{Unit: UnitWeek, Amount: n} }

// Shift returns base moved forward by the duration.
func (d Duration) Shift(base time.Time) time.Time {
	switch d.Unit {
	case UnitDay:
		return base.AddDate(0, 0, d.Amount)
	case UnitWeek:
		return base.AddDate(0, 0, 7*d.Amount)
	default:
		return base.Add(d.Std())
	}
}

// Std returns the elapsed-time equivalent, counting a day as 24 hours.
// It is used for numeric window comparisons.
func (d Duration) Std() time.Duration {
	n := time.Duration(d.Amount)
	switch d.Unit {
	case UnitSecond:
		return n * time.Second
	case UnitMinute:
		return n * time.Minute
	case UnitHour:
		return n * time.Hour
	case UnitDay:
		return n * 24 * time.Hour
	case UnitWeek:
		return n * 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Seconds returns the duration in whole seconds.
func (d Duration) Seconds() int64 {
	return int64(d.Std() / time.Second)
}

func (d Duration) String() string {
	return fmt.Sprintf("%d%s", d.Amount, d.Unit)
}

// Shift applies every duration to base in order, accumulating the result.
func Shift(base time.Time, ds ...Duration) time.Time {
	for _, d := range ds {
		base = d.Shift(base)
	}
	return base
}

// Total returns the summed elapsed-time equivalent of ds.
func Total(ds ...Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d.Std()
	}
	return total
}
