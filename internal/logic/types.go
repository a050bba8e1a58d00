// Package logic contains the pure decision logic of the scheduler: calendar
// gating, week-of-month bucketing and trigger matching.
// This package has NO I/O (no store, network or process clock).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// Mode is the operating mode sent to the air conditioner.
type Mode string

const (
	ModeCool Mode = "COOL"
	ModeHeat Mode = "HEAT"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeCool || m == ModeHeat
}

// Clock is a time of day at minute resolution.
type Clock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Action is what to send to the device when a trigger fires.
type Action struct {
	Mode       Mode    `json:"mode"`
	TargetTemp float64 `json:"target_temp"`
}

// Trigger pairs a time of day and a room temperature threshold with an action.
type Trigger struct {
	Time              Clock   `json:"time"`
	RoomTempThreshold float64 `json:"room_temp_threshold"`
	Action            Action  `json:"action"`
}

// Key returns the identity key hour*100+minute. At most one trigger
// per key is stored.
func (t Trigger) Key() int {
	return t.Time.Hour*100 + t.Time.Minute
}

// ErrInvalidTrigger is returned by Validate.
var ErrInvalidTrigger = errors.New("invalid trigger")

// Validate checks field ranges. Called on the write path only.
func (t Trigger) Validate() error {
	switch {
	case t.Time.Hour < 0 || t.Time.Hour > 23:
		return fmt.Errorf("%w: hour %d out of range 0-23", ErrInvalidTrigger, t.Time.Hour)
	case t.Time.Minute < 0 || t.Time.Minute > 59:
		return fmt.Errorf("%w: minute %d out of range 0-59", ErrInvalidTrigger, t.Time.Minute)
	case t.RoomTempThreshold < 0 || t.RoomTempThreshold > 100:
		return fmt.Errorf("%w: threshold %v out of range 0-100", ErrInvalidTrigger, t.RoomTempThreshold)
	case !t.Action.Mode.Valid():
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidTrigger, t.Action.Mode)
	case t.Action.TargetTemp < 0 || t.Action.TargetTemp > 100:
		return fmt.Errorf("%w: target temp %v out of range 0-100", ErrInvalidTrigger, t.Action.TargetTemp)
	}
	return nil
}

// OverrideDate locates a DateOverride. Week is the WeekOfMonth bucket and
// Day the day of month.
type OverrideDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Week  int `json:"week"`
	Day   int `json:"day"`
}

// DateOf returns the OverrideDate for a local date.
func DateOf(t time.Time) OverrideDate {
	return OverrideDate{
		Year:  t.Year(),
		Month: int(t.Month()),
		Week:  WeekOfMonth(t),
		Day:   t.Day(),
	}
}

// DateKey returns the canonical YYYY-MM-DD form.
func (d OverrideDate) DateKey() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// YearMonth returns the YYYY-MM form used in override keys.
func (d OverrideDate) YearMonth() string {
	return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
}

// DateOverride replaces the default triggers for a single date.
// An empty Triggers list suppresses every default for that date.
type DateOverride struct {
	Date     OverrideDate `json:"date"`
	Triggers []Trigger    `json:"triggers"`
}

// DateKey returns the canonical YYYY-MM-DD string of t in t's location.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
