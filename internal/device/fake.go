package device

import (
	"context"
	"sync"

	"github.com/sweeney/climate-scheduler/internal/logic"
)

// FakeCall is one recorded Actuate call.
type FakeCall struct {
	DeviceID   string
	Mode       logic.Mode
	TargetTemp float64
}

// Fake is a Sensor and Actuator for tests.
type Fake struct {
	mu sync.Mutex

	// Temperature is returned by ReadTemperature.
	Temperature float64

	// ReadError, if set, is returned by ReadTemperature.
	ReadError error

	// ActuateError, if set, is returned by Actuate.
	ActuateError error

	// Reads counts ReadTemperature calls.
	Reads int

	// Calls contains every successful Actuate call.
	Calls []FakeCall
}

// NewFake creates a Fake reporting temperature.
func NewFake(temperature float64) *Fake {
	return &Fake{Temperature: temperature}
}

// ReadTemperature returns Temperature or ReadError.
func (f *Fake) ReadTemperature(ctx context.Context, sensorID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.Temperature, nil
}

// Actuate records the call or returns ActuateError.
func (f *Fake) Actuate(ctx context.Context, deviceID string, mode logic.Mode, targetTemp float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActuateError != nil {
		return f.ActuateError
	}
	f.Calls = append(f.Calls, FakeCall{DeviceID: deviceID, Mode: mode, TargetTemp: targetTemp})
	return nil
}

// Actuations returns a copy of the recorded calls.
func (f *Fake) Actuations() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.Calls...)
}
