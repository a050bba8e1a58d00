package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sweeney/climate-scheduler/internal/logic"
)

// MessageWriter is the part of *kafka.Writer used by KafkaActuator.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommand is the message value published per actuation.
type KafkaCommand struct {
	DeviceID   string     `json:"device_id"`
	Mode       logic.Mode `json:"mode"`
	TargetTemp float64    `json:"target_temp"`
	Timestamp  time.Time  `json:"timestamp"`
}

// KafkaActuator publishes commands to a topic consumed by the device bridge.
// Messages are keyed by device ID so one device's commands stay ordered.
type KafkaActuator struct {
	w   MessageWriter
	now func() time.Time
	log *slog.Logger
}

// NewKafkaActuator creates a synchronous writer for topic.
func NewKafkaActuator(brokers []string, topic string, log *slog.Logger) *KafkaActuator {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return NewKafkaActuatorFromWriter(w, nil, log)
}

// NewKafkaActuatorFromWriter wraps w. now may be nil.
func NewKafkaActuatorFromWriter(w MessageWriter, now func() time.Time, log *slog.Logger) *KafkaActuator {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &KafkaActuator{w: w, now: now, log: log.With(slog.String("component", "device-kafka"))}
}

// Actuate writes one command message. The broker's acknowledgement is the
// only confirmation available.
func (k *KafkaActuator) Actuate(ctx context.Context, deviceID string, mode logic.Mode, targetTemp float64) error {
	ts := k.now().UTC()
	value, err := json.Marshal(KafkaCommand{DeviceID: deviceID, Mode: mode, TargetTemp: targetTemp, Timestamp: ts})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	msg := kafka.Message{Key: []byte(deviceID), Value: value, Time: ts}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: kafka %s: %w", ErrActuatorUnreachable, deviceID, err)
	}
	k.log.Debug("command published", "device", deviceID, "mode", mode, "target_temp", targetTemp)
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaActuator) Close() error {
	return k.w.Close()
}
