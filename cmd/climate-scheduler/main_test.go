package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/climate-scheduler/internal/config"
	"github.com/sweeney/climate-scheduler/internal/device"
	"github.com/sweeney/climate-scheduler/internal/logic"
	"github.com/sweeney/climate-scheduler/internal/scheduler"
	"github.com/sweeney/climate-scheduler/internal/status"
	"github.com/sweeney/climate-scheduler/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- runLoop tests ---

// fakeTicker records tick times and returns canned outcomes.
type fakeTicker struct {
	mu     sync.Mutex
	times  []time.Time
	result scheduler.Result
	err    error
}

func (f *fakeTicker) Tick(ctx context.Context, now time.Time) (scheduler.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times = append(f.times, now)
	return scheduler.Outcome{TickID: "t", Time: now, Result: f.result}, f.err
}

func (f *fakeTicker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.times)
}

type fakeConn struct{ connected bool }

func (c fakeConn) IsConnected() bool { return c.connected }

// stepClock returns a clock advancing by step on each call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// driveRunLoop sends nTicks timer events and then a signal.
func driveRunLoop(t *testing.T, sched ticker, tracker *status.Tracker, conn connectionStatus, clock func() time.Time, nTicks int, s os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(context.Background(), sched, tracker, conn, quietLogger(), clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- s

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return after signal")
		return nil
	}
}

func TestRunLoopOneTickPerTimerEvent(t *testing.T) {
	sched := &fakeTicker{result: scheduler.ResultBelowThreshold}
	start := time.Date(2023, 6, 28, 17, 0, 0, 0, time.UTC)
	tracker := status.NewTracker(start, status.Config{Interval: 10 * time.Minute})

	err := driveRunLoop(t, sched, tracker, nil, stepClock(start, 10*time.Minute), 3, syscall.SIGTERM)
	require.NoError(t, err)

	require.Equal(t, 3, sched.calls())
	assert.Equal(t, start, sched.times[0])
	assert.Equal(t, start.Add(20*time.Minute), sched.times[2])

	snap := tracker.Snapshot()
	assert.Equal(t, 3, snap.Counts.BelowThreshold)
	assert.Nil(t, snap.MQTTConnected)
}

func TestRunLoopShutdownWithoutTicks(t *testing.T) {
	for _, s := range []os.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(s.String(), func(t *testing.T) {
			sched := &fakeTicker{}
			err := driveRunLoop(t, sched, nil, nil, time.Now, 0, s)
			require.NoError(t, err)
			assert.Zero(t, sched.calls())
		})
	}
}

func TestRunLoopContinuesAfterFailedTick(t *testing.T) {
	sched := &fakeTicker{result: scheduler.ResultFailed, err: errors.New("store down")}
	tracker := status.NewTracker(time.Now(), status.Config{})

	err := driveRunLoop(t, sched, tracker, nil, time.Now, 2, syscall.SIGTERM)
	require.NoError(t, err)

	assert.Equal(t, 2, sched.calls())
	assert.Equal(t, 2, tracker.Snapshot().Counts.Failed)
}

func TestRunLoopReportsMQTTConnection(t *testing.T) {
	sched := &fakeTicker{result: scheduler.ResultNoActiveRules}
	tracker := status.NewTracker(time.Now(), status.Config{})

	err := driveRunLoop(t, sched, tracker, fakeConn{connected: true}, time.Now, 1, syscall.SIGTERM)
	require.NoError(t, err)

	c := tracker.Snapshot().MQTTConnected
	require.NotNil(t, c)
	assert.True(t, *c)
}

func TestRunLoopStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(ctx, &fakeTicker{}, nil, nil, quietLogger(), time.Now, make(chan time.Time), make(chan os.Signal))
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return after cancel")
	}
}

// --- command tests ---

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "climate-scheduler", cmd.Use)

	for _, path := range [][]string{
		{"run"}, {"tick"},
		{"trigger", "set"}, {"trigger", "list"}, {"trigger", "delete"},
		{"override", "set"}, {"override", "show"}, {"override", "list"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)
}

const testConfigYAML = `timezone: UTC
store:
  backend: memory
device:
  http:
    base_url: http://127.0.0.1:1
`

// harness runs commands against one shared in-memory store and a fake device.
type harness struct {
	t    *testing.T
	opts *RootOptions
	kv   *store.Memory
	dev  *device.Fake
}

// wednesday17 is a working day at 17:00 UTC.
var wednesday17 = time.Date(2023, 6, 28, 17, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o644))

	h := &harness{
		t:   t,
		kv:  store.NewMemory(func() time.Time { return wednesday17 }),
		dev: device.NewFake(36),
	}
	h.opts = defaultOptions()
	h.opts.ConfigPath = path
	h.opts.now = func() time.Time { return wednesday17 }
	h.opts.openKV = func(ctx context.Context, cfg config.Config, log *slog.Logger) (store.KV, error) {
		return h.kv, nil
	}
	h.opts.openDevices = func(cfg config.Config, log *slog.Logger) (*devices, error) {
		return &devices{sensor: h.dev, actuator: h.dev}, nil
	}
	return h
}

func (h *harness) exec(args ...string) (string, error) {
	h.t.Helper()
	cmd := newRootCommand(h.opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	// ConfigPath is bound to a flag whose default would reset it.
	cmd.SetArgs(append([]string{"--config", h.opts.ConfigPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) tick() (scheduler.Outcome, error) {
	h.t.Helper()
	out, err := h.exec("tick")
	var o scheduler.Outcome
	require.NoError(h.t, json.Unmarshal([]byte(out), &o), "tick output: %q", out)
	return o, err
}

func TestTriggerSetAndList(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec("trigger", "set", "--at", "17:00", "--threshold", "35", "--mode", "cool", "--target", "26")
	require.NoError(t, err)
	_, err = h.exec("trigger", "set", "--at", "16:00", "--threshold", "38", "--target", "24")
	require.NoError(t, err)

	out, err := h.exec("trigger", "list", "--json")
	require.NoError(t, err)
	var list []logic.Trigger
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 2)
	assert.Equal(t, 16, list[0].Time.Hour)
	assert.Equal(t, logic.Trigger{
		Time:              logic.Clock{Hour: 17},
		RoomTempThreshold: 35,
		Action:            logic.Action{Mode: logic.ModeCool, TargetTemp: 26},
	}, list[1])

	out, err = h.exec("trigger", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "TIME")
	assert.Contains(t, out, "17:00")
}

func TestTriggerSetRejectsInvalid(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad clock", []string{"--at", "17", "--threshold", "35", "--target", "26"}},
		{"hour out of range", []string{"--at", "24:00", "--threshold", "35", "--target", "26"}},
		{"threshold out of range", []string{"--at", "17:00", "--threshold", "101", "--target", "26"}},
		{"unknown mode", []string{"--at", "17:00", "--threshold", "35", "--mode", "FAN", "--target", "26"}},
		{"missing target", []string{"--at", "17:00", "--threshold", "35"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.exec(append([]string{"trigger", "set"}, tt.args...)...)
			assert.Error(t, err)
		})
	}

	entries, err := h.kv.List(context.Background(), store.PrefixDefault)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTriggerDelete(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec("trigger", "set", "--at", "17:00", "--threshold", "35", "--target", "26")
	require.NoError(t, err)

	_, err = h.exec("trigger", "delete", "17:00")
	require.NoError(t, err)

	out, err := h.exec("trigger", "list", "--json")
	require.NoError(t, err)
	var list []logic.Trigger
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Empty(t, list)
}

func TestOverrideSetShowAndList(t *testing.T) {
	h := newHarness(t)

	out, err := h.exec("override", "set", "2023-06-28", "--trigger", "17:00,30,COOL,25", "--trigger", "18:30,32,heat,22")
	require.NoError(t, err)
	assert.Contains(t, out, "week 5")

	out, err = h.exec("override", "show", "2023-06-28")
	require.NoError(t, err)
	var o logic.DateOverride
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, logic.OverrideDate{Year: 2023, Month: 6, Week: 5, Day: 28}, o.Date)
	require.Len(t, o.Triggers, 2)
	assert.Equal(t, logic.ModeHeat, o.Triggers[1].Action.Mode)

	out, err = h.exec("override", "list", "2023-06", "--week", "5")
	require.NoError(t, err)
	var list []logic.DateOverride
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 1)

	_, err = h.exec("override", "show", "2023-06-29")
	assert.Error(t, err)
}

func TestOverrideSetRejectsInvalid(t *testing.T) {
	h := newHarness(t)

	for _, args := range [][]string{
		{"override", "set", "2023-02-30"},
		{"override", "set", "28/06/2023"},
		{"override", "set", "2023-06-28", "--trigger", "17:00,35,COOL"},
		{"override", "set", "2023-06-28", "--trigger", "17:00,abc,COOL,26"},
		{"override", "set", "2023-06-28", "--trigger", "17:00,35,FAN,26"},
	} {
		_, err := h.exec(args...)
		assert.Error(t, err, "args %v", args)
	}
}

func TestTickActuatesOncePerDay(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec("trigger", "set", "--at", "17:00", "--threshold", "35", "--target", "26")
	require.NoError(t, err)

	o, err := h.tick()
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultActuated, o.Result)
	assert.Equal(t, "2023-06-28", o.DateKey)
	assert.True(t, o.Marked)
	require.Len(t, h.dev.Actuations(), 1)
	assert.Equal(t, device.FakeCall{DeviceID: "ac", Mode: logic.ModeCool, TargetTemp: 26}, h.dev.Actuations()[0])

	o, err = h.tick()
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultAlreadyDone, o.Result)
	assert.Len(t, h.dev.Actuations(), 1)
}

func TestTickEmptyOverrideSuppressesDefaults(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec("trigger", "set", "--at", "17:00", "--threshold", "35", "--target", "26")
	require.NoError(t, err)
	_, err = h.exec("override", "set", "2023-06-28")
	require.NoError(t, err)

	o, err := h.tick()
	require.NoError(t, err)
	assert.Equal(t, scheduler.ResultNoActiveRules, o.Result)
	assert.Equal(t, scheduler.SourceOverride, o.Source)
	assert.Zero(t, h.dev.Reads)
}

func TestTickFailureExitsWithError(t *testing.T) {
	h := newHarness(t)
	h.dev.ActuateError = device.ErrActuatorUnreachable
	_, err := h.exec("trigger", "set", "--at", "17:00", "--threshold", "35", "--target", "26")
	require.NoError(t, err)

	o, err := h.tick()
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrActuatorUnreachable)
	assert.Equal(t, scheduler.ResultFailed, o.Result)
	assert.False(t, o.Marked)

	done, err := store.NewHistory(h.kv, 0).AlreadyActuatedToday(context.Background(), "2023-06-28")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestTickRejectsBadConfig(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: sqlite\n"), 0o644))
	h.opts.ConfigPath = path

	_, err := h.exec("tick")
	assert.Error(t, err)
}

func TestParseTrigger(t *testing.T) {
	got, err := parseTrigger(" 07:05 , 28.5 , heat , 22 ")
	require.NoError(t, err)
	assert.Equal(t, logic.Trigger{
		Time:              logic.Clock{Hour: 7, Minute: 5},
		RoomTempThreshold: 28.5,
		Action:            logic.Action{Mode: logic.ModeHeat, TargetTemp: 22},
	}, got)
}
