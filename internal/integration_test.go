package internal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/climate-scheduler/internal/device"
	"github.com/sweeney/climate-scheduler/internal/holiday"
	"github.com/sweeney/climate-scheduler/internal/logic"
	"github.com/sweeney/climate-scheduler/internal/mqtt"
	"github.com/sweeney/climate-scheduler/internal/scheduler"
	"github.com/sweeney/climate-scheduler/internal/status"
	"github.com/sweeney/climate-scheduler/internal/store"
	"github.com/sweeney/climate-scheduler/internal/web"
)

// system wires the real store, gate, scheduler and status server over a
// miniredis instance and a fake MQTT broker.
type system struct {
	redis    *miniredis.Miniredis
	triggers *store.Triggers
	history  *store.History
	broker   *mqtt.FakeClient
	gateway  *mqtt.Gateway
	sched    *scheduler.Scheduler
	tracker  *status.Tracker
	loc      *time.Location
}

// newSystem reads temperature over MQTT unless sensor is non-nil.
func newSystem(t *testing.T, sensor device.Sensor) *system {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	kv := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { kv.Close() })

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	cal, err := holiday.New("us", []string{"2023-06-30"})
	require.NoError(t, err)
	gate := logic.NewGate(logic.DefaultWeekend, logic.DefaultBannedHours, cal)

	broker := mqtt.NewFakeClient()
	broker.Retained[mqtt.TemperatureTopic("home", "living")] = []byte(`{"temperature": 36.5}`)
	gw := mqtt.NewGateway(broker, "home", nil, log)
	if sensor == nil {
		sensor = gw
	}

	triggers := store.NewTriggers(kv, log)
	history := store.NewHistory(kv, 0)
	sched := scheduler.New(scheduler.Config{
		Location:    loc,
		SensorID:    "living",
		DeviceID:    "ac-1",
		CallTimeout: 2 * time.Second,
	}, gate, triggers, history, sensor, gw, log)

	return &system{
		redis:    mr,
		triggers: triggers,
		history:  history,
		broker:   broker,
		gateway:  gw,
		sched:    sched,
		tracker: status.NewTracker(time.Now(), status.Config{
			Interval: 10 * time.Minute,
			Timezone: loc.String(),
			Backend:  "redis",
			Sensor:   "mqtt",
			Actuator: "mqtt",
		}),
		loc: loc,
	}
}

func (s *system) tick(year int, month time.Month, day, hour int) (scheduler.Outcome, error) {
	out, err := s.sched.Tick(context.Background(), time.Date(year, month, day, hour, 0, 0, 0, s.loc))
	s.tracker.Record(out)
	s.tracker.SetMQTTConnected(s.gateway.IsConnected())
	return out, err
}

func (s *system) at(t *testing.T, year int, month time.Month, day, hour int) scheduler.Outcome {
	t.Helper()
	out, err := s.tick(year, month, day, hour)
	require.NoError(t, err)
	return out
}

func (s *system) addTriggers(t *testing.T, list ...logic.Trigger) {
	t.Helper()
	for _, tr := range list {
		require.NoError(t, s.triggers.UpsertDefaultTrigger(context.Background(), tr))
	}
}

func trigger(hour int, threshold float64, mode logic.Mode, target float64) logic.Trigger {
	return logic.Trigger{
		Time:              logic.Clock{Hour: hour},
		RoomTempThreshold: threshold,
		Action:            logic.Action{Mode: mode, TargetTemp: target},
	}
}

// TestIntegrationFullFlow walks one week in New York: a holiday, a weekend,
// an override and the once-per-day rule.
func TestIntegrationFullFlow(t *testing.T) {
	s := newSystem(t, nil)
	s.addTriggers(t,
		trigger(16, 38, logic.ModeCool, 24),
		trigger(17, 35, logic.ModeCool, 26),
		trigger(18, 33, logic.ModeCool, 27),
	)
	// Thursday 2023-06-29: an override that only fires in the evening.
	require.NoError(t, s.triggers.PutOverride(context.Background(), logic.DateOverride{
		Date:     logic.OverrideDate{Year: 2023, Month: 6, Day: 29},
		Triggers: []logic.Trigger{trigger(20, 30, logic.ModeCool, 25)},
	}))

	steps := []struct {
		name   string
		day    int
		hour   int
		want   scheduler.Result
		mark   bool
		cmds   int
		source scheduler.Source
	}{
		{name: "wednesday before dawn", day: 28, hour: 5, want: scheduler.ResultIneligible},
		{name: "wednesday morning, no rules", day: 28, hour: 9, want: scheduler.ResultNoActiveRules, source: scheduler.SourceDefault},
		{name: "wednesday 17h, actuates", day: 28, hour: 17, want: scheduler.ResultActuated, mark: true, cmds: 1, source: scheduler.SourceDefault},
		{name: "wednesday 18h, already done", day: 28, hour: 18, want: scheduler.ResultAlreadyDone, cmds: 1},
		{name: "thursday 17h, override has no 17h rule", day: 29, hour: 17, want: scheduler.ResultNoActiveRules, cmds: 1, source: scheduler.SourceOverride},
		{name: "thursday 20h, override fires", day: 29, hour: 20, want: scheduler.ResultActuated, mark: true, cmds: 2, source: scheduler.SourceOverride},
		{name: "friday, extra holiday", day: 30, hour: 17, want: scheduler.ResultIneligible, cmds: 2},
	}
	for _, st := range steps {
		out := s.at(t, 2023, time.June, st.day, st.hour)
		assert.Equal(t, st.want, out.Result, "%s: reason %q", st.name, out.Reason)
		assert.Equal(t, st.mark, out.Marked, st.name)
		assert.Len(t, s.broker.Sent(), st.cmds, st.name)
		assert.Equal(t, st.source, out.Source, st.name)
		if st.want == scheduler.ResultActuated {
			require.NotNil(t, out.Rule, st.name)
		}
	}

	// July 1st and 2nd are a weekend, July 4th a federal holiday.
	for _, day := range []int{1, 2, 4} {
		out := s.at(t, 2023, time.July, day, 17)
		assert.Equal(t, scheduler.ResultIneligible, out.Result, "July %d", day)
	}

	sent := s.broker.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "home/ac-1/set", sent[1].Topic)
	assert.Equal(t, "home/ac-1/set", sent[0].Topic)
	assert.Equal(t, byte(1), sent[0].QoS)
	assert.False(t, sent[0].Retained)
	var cmd mqtt.CommandPayload
	require.NoError(t, json.Unmarshal(sent[0].Payload, &cmd))
	assert.Equal(t, logic.ModeCool, cmd.Mode)
	assert.Equal(t, 26.0, cmd.TargetTemp)

	// Completion records live in Redis under the local date with a TTL.
	for _, key := range []string{"history:2023-06-28", "history:2023-06-29"} {
		assert.True(t, s.redis.Exists(key), key)
		assert.Equal(t, store.DefaultHistoryTTL, s.redis.TTL(key), key)
	}
	assert.False(t, s.redis.Exists("history:2023-06-30"), "history written for a holiday")
}

func TestIntegrationRecordExpiresNextDay(t *testing.T) {
	s := newSystem(t, nil)
	s.addTriggers(t, trigger(17, 35, logic.ModeCool, 26))

	require.Equal(t, scheduler.ResultActuated, s.at(t, 2023, time.June, 27, 17).Result)

	s.redis.FastForward(store.DefaultHistoryTTL)
	assert.False(t, s.redis.Exists("history:2023-06-27"), "completion record should have expired")

	assert.Equal(t, scheduler.ResultActuated, s.at(t, 2023, time.June, 28, 17).Result)
	assert.Len(t, s.broker.Sent(), 2)
}

// A command attempted while the client is reconnecting fails the tick, is
// never delivered afterwards, and the retry after the reconnect is the only
// command the device receives that day.
func TestIntegrationBrokerReconnectingActuatesOnce(t *testing.T) {
	s := newSystem(t, device.NewFake(36.5))
	s.addTriggers(t, trigger(17, 35, logic.ModeCool, 26))

	s.broker.Reconnecting = true
	out, err := s.tick(2023, time.June, 28, 17)
	require.ErrorIs(t, err, device.ErrActuatorUnreachable)
	assert.Equal(t, scheduler.ResultFailed, out.Result)
	assert.False(t, s.redis.Exists("history:2023-06-28"), "history written for a failed tick")
	assert.Empty(t, s.broker.Queued)

	snap := s.tracker.Snapshot()
	require.NotNil(t, snap.MQTTConnected)
	assert.False(t, *snap.MQTTConnected, "status must not report a reconnecting client as connected")

	s.broker.FinishReconnect()
	assert.Empty(t, s.broker.Sent(), "failed command delivered after reconnect")

	assert.Equal(t, scheduler.ResultActuated, s.at(t, 2023, time.June, 28, 17).Result)
	assert.Equal(t, scheduler.ResultAlreadyDone, s.at(t, 2023, time.June, 28, 18).Result)
	assert.Len(t, s.broker.Sent(), 1)

	snap = s.tracker.Snapshot()
	assert.Equal(t, 1, snap.Counts.Failed)
	assert.Equal(t, 1, snap.Counts.Actuated)
	assert.True(t, *snap.MQTTConnected)
}

func TestIntegrationBrokerDownLeavesDayOpen(t *testing.T) {
	s := newSystem(t, nil)
	s.addTriggers(t, trigger(17, 35, logic.ModeCool, 26))

	s.broker.Connected = false
	out, err := s.tick(2023, time.June, 28, 17)
	require.ErrorIs(t, err, device.ErrSensorUnreachable)
	assert.Equal(t, scheduler.ResultFailed, out.Result)
	assert.False(t, s.redis.Exists("history:2023-06-28"))

	s.broker.Connected = true
	assert.Equal(t, scheduler.ResultActuated, s.at(t, 2023, time.June, 28, 17).Result)
}

func TestIntegrationStatusEndpoint(t *testing.T) {
	s := newSystem(t, nil)
	s.addTriggers(t, trigger(17, 35, logic.ModeCool, 26))
	s.at(t, 2023, time.June, 28, 17)

	ts := httptest.NewServer(web.New(":0", s.tracker).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
	la := sj.Status.LastActuation
	require.NotNil(t, la)
	assert.Equal(t, scheduler.ResultActuated, la.Result)
	assert.Equal(t, "2023-06-28", la.DateKey)
	require.NotNil(t, la.Temperature)
	assert.Equal(t, 36.5, *la.Temperature)
	assert.Equal(t, "America/New_York", sj.Status.Config.Timezone)
	require.NotNil(t, sj.Status.MQTT)
	assert.True(t, sj.Status.MQTT.Connected)
}

// The device package's sentinel errors survive the MQTT gateway.
func TestIntegrationSensorErrorKind(t *testing.T) {
	s := newSystem(t, nil)
	s.addTriggers(t, trigger(17, 35, logic.ModeCool, 26))
	delete(s.broker.Retained, mqtt.TemperatureTopic("home", "living"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.sched.Tick(ctx, time.Date(2023, 6, 28, 17, 0, 0, 0, s.loc))
	assert.ErrorIs(t, err, device.ErrSensorUnreachable)
}
