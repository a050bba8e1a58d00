// Package device talks to the room temperature sensor and the air
// conditioner. Sensor and actuator are separate interfaces so each can use
// its own transport (HTTP, MQTT or Kafka).
package device

import (
	"context"
	"errors"

	"github.com/sweeney/climate-scheduler/internal/logic"
)

var (
	// ErrSensorUnreachable means no temperature reading could be obtained.
	ErrSensorUnreachable = errors.New("sensor unreachable")

	// ErrActuatorRejected means the device refused the command.
	ErrActuatorRejected = errors.New("actuator rejected command")

	// ErrActuatorUnreachable covers network failures and timeouts on actuate.
	ErrActuatorUnreachable = errors.New("actuator unreachable")
)

// Sensor reads the current room temperature.
type Sensor interface {
	ReadTemperature(ctx context.Context, sensorID string) (float64, error)
}

// Actuator sends a mode and target temperature to the air conditioner.
// Implementations do not retry.
type Actuator interface {
	Actuate(ctx context.Context, deviceID string, mode logic.Mode, targetTemp float64) error
}

// Gateway pairs a Sensor with an Actuator.
type Gateway struct {
	Sensor
	Actuator
}

// Reading is the sensor payload shared by the HTTP and MQTT transports.
// Temperature is a pointer so a missing field is detectable.
type Reading struct {
	Temperature *float64 `json:"temperature"`
}

// Command is the actuation payload.
type Command struct {
	Mode       logic.Mode `json:"mode"`
	TargetTemp float64    `json:"target_temp"`
}
