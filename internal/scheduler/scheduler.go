// Package scheduler runs one decision cycle (a tick): gate the calendar,
// check today's completion record, resolve and match trigger rules against
// a live reading, actuate, and record completion.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/climate-scheduler/internal/device"
	"github.com/sweeney/climate-scheduler/internal/logic"
)

// Result is how a tick ended.
type Result string

const (
	ResultIneligible     Result = "ineligible"
	ResultAlreadyDone    Result = "already_done"
	ResultNoActiveRules  Result = "no_active_rules"
	ResultBelowThreshold Result = "below_threshold"
	ResultActuated       Result = "actuated"
	ResultFailed         Result = "failed"
)

// Source says which rule set was in force.
type Source string

const (
	SourceDefault  Source = "default"
	SourceOverride Source = "override"
)

// Outcome describes one tick.
type Outcome struct {
	TickID      string         `json:"tick_id"`
	Time        time.Time      `json:"time"`
	DateKey     string         `json:"date"`
	Hour        int            `json:"hour"`
	Result      Result         `json:"result"`
	Reason      logic.Reason   `json:"reason,omitempty"`
	Source      Source         `json:"source,omitempty"`
	ActiveRules int            `json:"active_rules"`
	Temperature *float64       `json:"temperature,omitempty"`
	Rule        *logic.Trigger `json:"rule,omitempty"`
	Marked      bool           `json:"marked"`
	Error       string         `json:"error,omitempty"`
}

// Gate decides calendar eligibility.
type Gate interface {
	Check(nowLocal time.Time) logic.Reason
}

// RuleStore is the read side of the trigger store.
type RuleStore interface {
	ListDefaultTriggers(ctx context.Context) ([]logic.Trigger, error)
	OverrideFor(ctx context.Context, t time.Time) (*logic.DateOverride, error)
}

// DedupGuard tracks the once-per-day completion record.
type DedupGuard interface {
	AlreadyActuatedToday(ctx context.Context, dateKey string) (bool, error)
	MarkActuatedToday(ctx context.Context, dateKey string) (bool, error)
}

// Config holds the scheduler's fixed parameters.
type Config struct {
	// Location is the operating timezone. Nil means UTC.
	Location *time.Location

	SensorID string
	DeviceID string

	// CallTimeout bounds every store and device call. Zero means no bound
	// beyond the tick's context.
	CallTimeout time.Duration
}

// Scheduler executes ticks. Ticks within one Scheduler must not overlap.
type Scheduler struct {
	cfg      Config
	gate     Gate
	rules    RuleStore
	guard    DedupGuard
	sensor   device.Sensor
	actuator device.Actuator
	log      *slog.Logger
	newID    func() string
}

// New creates a Scheduler.
func New(cfg Config, gate Gate, rules RuleStore, guard DedupGuard, sensor device.Sensor, actuator device.Actuator, log *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		gate:     gate,
		rules:    rules,
		guard:    guard,
		sensor:   sensor,
		actuator: actuator,
		log:      log.With(slog.String("component", "scheduler")),
		newID:    uuid.NewString,
	}
}

func (s *Scheduler) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

// Tick runs one cycle at now. A non-nil error means the tick aborted; the
// returned Outcome then has Result ResultFailed and describes how far it got.
//
// A successful actuation whose completion record cannot be written still
// returns ResultActuated and a nil error. A later tick the same day may then
// actuate again.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (Outcome, error) {
	local := now.In(s.cfg.Location)
	out := Outcome{
		TickID:  s.newID(),
		Time:    local,
		DateKey: logic.DateKey(local),
		Hour:    local.Hour(),
	}
	log := s.log.With(slog.String("tick", out.TickID), slog.String("date", out.DateKey), slog.Int("hour", out.Hour))

	fail := func(err error) (Outcome, error) {
		out.Result = ResultFailed
		out.Error = err.Error()
		log.Error("tick failed", "error", err)
		return out, err
	}

	if reason := s.gate.Check(local); reason != logic.ReasonNone {
		out.Result = ResultIneligible
		out.Reason = reason
		log.Info("tick skipped", "reason", reason)
		return out, nil
	}

	cctx, cancel := s.bounded(ctx)
	done, err := s.guard.AlreadyActuatedToday(cctx, out.DateKey)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("check completion: %w", err))
	}
	if done {
		out.Result = ResultAlreadyDone
		log.Info("already actuated today")
		return out, nil
	}

	triggers, err := s.resolve(ctx, local, &out)
	if err != nil {
		return fail(err)
	}

	active := logic.SelectActiveRules(triggers, out.Hour)
	out.ActiveRules = len(active)
	if len(active) == 0 {
		out.Result = ResultNoActiveRules
		log.Info("no rules for this hour", "source", out.Source, "rules", len(triggers))
		return out, nil
	}

	cctx, cancel = s.bounded(ctx)
	temp, err := s.sensor.ReadTemperature(cctx, s.cfg.SensorID)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("read temperature: %w", err))
	}
	out.Temperature = &temp

	rule, ok := logic.ChooseRule(active, temp)
	if !ok {
		out.Result = ResultBelowThreshold
		log.Info("below threshold", "temperature", temp, "active", len(active))
		return out, nil
	}
	out.Rule = &rule

	cctx, cancel = s.bounded(ctx)
	err = s.actuator.Actuate(cctx, s.cfg.DeviceID, rule.Action.Mode, rule.Action.TargetTemp)
	cancel()
	if err != nil {
		return fail(fmt.Errorf("actuate: %w", err))
	}
	out.Result = ResultActuated
	log.Info("actuated",
		"device", s.cfg.DeviceID,
		"mode", rule.Action.Mode,
		"target_temp", rule.Action.TargetTemp,
		"temperature", temp,
		"threshold", rule.RoomTempThreshold,
		"rule", rule.Time.String(),
		"source", out.Source,
	)

	cctx, cancel = s.bounded(ctx)
	created, err := s.guard.MarkActuatedToday(cctx, out.DateKey)
	cancel()
	switch {
	case err != nil:
		out.Error = err.Error()
		log.Error("completion record not written; a later tick today may actuate again", "error", err)
	case !created:
		log.Warn("completion record already present; another tick actuated concurrently")
	default:
		out.Marked = true
	}
	return out, nil
}

// resolve returns the rule set in force for local's date. An override,
// even an empty one, replaces the defaults.
func (s *Scheduler) resolve(ctx context.Context, local time.Time, out *Outcome) ([]logic.Trigger, error) {
	cctx, cancel := s.bounded(ctx)
	override, err := s.rules.OverrideFor(cctx, local)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load override: %w", err)
	}
	if override != nil {
		out.Source = SourceOverride
		return logic.ResolveRules(nil, override), nil
	}

	cctx, cancel = s.bounded(ctx)
	defaults, err := s.rules.ListDefaultTriggers(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("load default triggers: %w", err)
	}
	out.Source = SourceDefault
	return logic.ResolveRules(defaults, nil), nil
}
