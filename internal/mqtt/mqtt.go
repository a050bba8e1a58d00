// Package mqtt reads room temperature from, and sends commands to, devices
// bridged onto an MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/climate-scheduler/internal/device"
	"github.com/sweeney/climate-scheduler/internal/logic"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "climate"

// TemperatureTopic is where a sensor publishes its retained reading.
func TemperatureTopic(prefix, sensorID string) string {
	return fmt.Sprintf("%s/%s/temperature", prefix, sensorID)
}

// CommandTopic is where the bridge for deviceID listens for commands.
func CommandTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/%s/set", prefix, deviceID)
}

// CommandPayload is the JSON published on the command topic.
type CommandPayload struct {
	Mode       logic.Mode `json:"mode"`
	TargetTemp float64    `json:"target_temp"`
	Timestamp  string     `json:"timestamp"`
}

// FormatCommand creates the JSON payload for a command.
func FormatCommand(mode logic.Mode, targetTemp float64, ts time.Time) ([]byte, error) {
	return json.Marshal(CommandPayload{
		Mode:       mode,
		TargetTemp: targetTemp,
		Timestamp:  ts.UTC().Format(time.RFC3339),
	})
}

// ParseReading decodes a sensor payload of the form {"temperature": 31.5}.
func ParseReading(payload []byte) (float64, error) {
	var r device.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return 0, fmt.Errorf("decode reading: %w", err)
	}
	if r.Temperature == nil {
		return 0, fmt.Errorf("reading has no temperature")
	}
	return *r.Temperature, nil
}
