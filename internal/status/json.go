package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/climate-scheduler/internal/scheduler"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Healthy       bool               `json:"healthy"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	StartTime     string             `json:"start_time"`
	Timestamp     string             `json:"timestamp"`
	Ticks         int                `json:"ticks"`
	Counts        CountsJSON         `json:"tick_counts"`
	LastTick      *scheduler.Outcome `json:"last_tick,omitempty"`
	LastActuation *scheduler.Outcome `json:"last_actuation,omitempty"`
	MQTT          *MQTTStatus        `json:"mqtt,omitempty"`
	Config        ConfigJSON         `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool `json:"connected"`
}

// CountsJSON is the JSON representation of tick counts.
type CountsJSON struct {
	Ineligible     int `json:"ineligible"`
	AlreadyDone    int `json:"already_done"`
	NoActiveRules  int `json:"no_active_rules"`
	BelowThreshold int `json:"below_threshold"`
	Actuated       int `json:"actuated"`
	Failed         int `json:"failed"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	IntervalSeconds int64  `json:"interval_seconds"`
	Timezone        string `json:"timezone"`
	Backend         string `json:"backend"`
	Sensor          string `json:"sensor"`
	Actuator        string `json:"actuator"`
	HTTPAddr        string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Healthy:       snap.Healthy(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Ticks:         snap.Counts.Total(),
		Counts: CountsJSON{
			Ineligible:     snap.Counts.Ineligible,
			AlreadyDone:    snap.Counts.AlreadyDone,
			NoActiveRules:  snap.Counts.NoActiveRules,
			BelowThreshold: snap.Counts.BelowThreshold,
			Actuated:       snap.Counts.Actuated,
			Failed:         snap.Counts.Failed,
		},
		LastTick:      snap.Last,
		LastActuation: snap.LastActuation,
		Config: ConfigJSON{
			IntervalSeconds: int64(snap.Config.Interval.Seconds()),
			Timezone:        snap.Config.Timezone,
			Backend:         snap.Config.Backend,
			Sensor:          snap.Config.Sensor,
			Actuator:        snap.Config.Actuator,
			HTTPAddr:        snap.Config.HTTPAddr,
		},
	}
	if snap.MQTTConnected != nil {
		inner.MQTT = &MQTTStatus{Connected: *snap.MQTTConnected}
	}
	return inner
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
