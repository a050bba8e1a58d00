package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sweeney/climate-scheduler/internal/logic"
)

// Key prefixes. Each kind of record owns one prefix.
const (
	PrefixDefault  = "trigger:default:"
	PrefixOverride = "override:"
	PrefixHistory  = "history:"
)

// DefaultKey returns the storage key of a default trigger. Identity keys
// are zero-padded so lexical order matches numeric order.
func DefaultKey(identity int) string {
	return fmt.Sprintf("%s%04d", PrefixDefault, identity)
}

// OverrideWeekPrefix returns the prefix shared by every override in one
// week-of-month bucket, e.g. "override:2023-06:5:".
func OverrideWeekPrefix(yearMonth string, week int) string {
	return fmt.Sprintf("%s%s:%d:", PrefixOverride, yearMonth, week)
}

// OverrideKey returns the storage key of the override for d.
func OverrideKey(d logic.OverrideDate) string {
	return OverrideWeekPrefix(d.YearMonth(), d.Week) + d.DateKey()
}

// Triggers is the trigger rule store. Scheduler code only reads it; the
// write methods serve the administrative path.
type Triggers struct {
	kv  KV
	log *slog.Logger
}

// NewTriggers creates a Triggers store on kv.
func NewTriggers(kv KV, log *slog.Logger) *Triggers {
	if log == nil {
		log = slog.Default()
	}
	return &Triggers{kv: kv, log: log.With(slog.String("component", "triggers"))}
}

// triggerRecord is the persisted form. Pointer fields let decode tell a
// missing field from a zero value.
type triggerRecord struct {
	Time              *logic.Clock  `json:"time"`
	RoomTempThreshold *float64      `json:"room_temp_threshold"`
	Action            *logic.Action `json:"action"`
}

func decodeTrigger(data []byte) (logic.Trigger, error) {
	var rec triggerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return logic.Trigger{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if rec.Time == nil || rec.RoomTempThreshold == nil || rec.Action == nil {
		return logic.Trigger{}, fmt.Errorf("%w: missing field", ErrMalformedRecord)
	}
	if rec.Time.Hour < 0 || rec.Time.Hour > 23 {
		return logic.Trigger{}, fmt.Errorf("%w: hour %d", ErrMalformedRecord, rec.Time.Hour)
	}
	return logic.Trigger{
		Time:              *rec.Time,
		RoomTempThreshold: *rec.RoomTempThreshold,
		Action:            *rec.Action,
	}, nil
}

type overrideRecord struct {
	Date     *logic.OverrideDate `json:"date"`
	Triggers *[]json.RawMessage  `json:"triggers"`
}

func (s *Triggers) decodeOverride(key string, data []byte) (logic.DateOverride, error) {
	var rec overrideRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return logic.DateOverride{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if rec.Date == nil || rec.Triggers == nil {
		return logic.DateOverride{}, fmt.Errorf("%w: missing field", ErrMalformedRecord)
	}
	o := logic.DateOverride{Date: *rec.Date, Triggers: []logic.Trigger{}}
	for i, raw := range *rec.Triggers {
		t, err := decodeTrigger(raw)
		if err != nil {
			s.log.Warn("skipping malformed override trigger", "key", key, "index", i, "error", err)
			continue
		}
		o.Triggers = append(o.Triggers, t)
	}
	return o, nil
}

// ListDefaultTriggers returns all default triggers ascending by identity key.
// Malformed records are logged and skipped.
func (s *Triggers) ListDefaultTriggers(ctx context.Context) ([]logic.Trigger, error) {
	entries, err := s.kv.List(ctx, PrefixDefault)
	if err != nil {
		return nil, fmt.Errorf("list default triggers: %w", err)
	}
	out := make([]logic.Trigger, 0, len(entries))
	for _, e := range entries {
		t, err := decodeTrigger(e.Value)
		if err != nil {
			s.log.Warn("skipping malformed trigger", "key", e.Key, "error", err)
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// ListOverridesForWeek returns the overrides stored in one week-of-month
// bucket, sorted by date.
func (s *Triggers) ListOverridesForWeek(ctx context.Context, yearMonth string, week int) ([]logic.DateOverride, error) {
	prefix := OverrideWeekPrefix(yearMonth, week)
	entries, err := s.kv.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list overrides %s: %w", prefix, err)
	}
	var out []logic.DateOverride
	for _, e := range entries {
		o, err := s.decodeOverride(e.Key, e.Value)
		if err != nil {
			s.log.Warn("skipping malformed override", "key", e.Key, "error", err)
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// OverrideFor returns the override for the local date of t, or nil when
// the date has none.
func (s *Triggers) OverrideFor(ctx context.Context, t time.Time) (*logic.DateOverride, error) {
	d := logic.DateOf(t)
	list, err := s.ListOverridesForWeek(ctx, d.YearMonth(), d.Week)
	if err != nil {
		return nil, err
	}
	for i := range list {
		od := list[i].Date
		if od.Year == d.Year && od.Month == d.Month && od.Day == d.Day {
			return &list[i], nil
		}
	}
	return nil, nil
}

// UpsertDefaultTrigger validates t and stores it, replacing any trigger with
// the same identity key.
func (s *Triggers) UpsertDefaultTrigger(ctx context.Context, t logic.Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	if err := s.kv.Put(ctx, DefaultKey(t.Key()), data, 0); err != nil {
		return fmt.Errorf("upsert trigger %s: %w", t.Time, err)
	}
	return nil
}

// DeleteDefaultTrigger removes the default trigger with the given identity key.
func (s *Triggers) DeleteDefaultTrigger(ctx context.Context, identity int) error {
	if err := s.kv.Delete(ctx, DefaultKey(identity)); err != nil {
		return fmt.Errorf("delete trigger %04d: %w", identity, err)
	}
	return nil
}

// ErrInvalidDate is returned by PutOverride for an impossible date.
var ErrInvalidDate = errors.New("invalid override date")

// PutOverride stores o, replacing any override for the same date. The week
// bucket is recomputed from year, month and day.
func (s *Triggers) PutOverride(ctx context.Context, o logic.DateOverride) error {
	day := time.Date(o.Date.Year, time.Month(o.Date.Month), o.Date.Day, 12, 0, 0, 0, time.UTC)
	if day.Year() != o.Date.Year || int(day.Month()) != o.Date.Month || day.Day() != o.Date.Day {
		return fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, o.Date.Year, o.Date.Month, o.Date.Day)
	}
	o.Date = logic.DateOf(day)
	if o.Triggers == nil {
		o.Triggers = []logic.Trigger{}
	}
	for _, t := range o.Triggers {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal override: %w", err)
	}
	if err := s.kv.Put(ctx, OverrideKey(o.Date), data, 0); err != nil {
		return fmt.Errorf("put override %s: %w", o.Date.DateKey(), err)
	}
	return nil
}
