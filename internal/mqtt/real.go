package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/climate-scheduler/internal/device"
	"github.com/sweeney/climate-scheduler/internal/logic"
)

// defaultWait bounds a call whose context has no deadline.
const defaultWait = 10 * time.Second

// connectTimeout bounds the initial broker connection.
const connectTimeout = 10 * time.Second

var errNotConnected = errors.New("not connected")

// Client is the part of paho.Client used by Gateway.
//
// With auto-reconnect on, paho's IsConnected stays true while the client is
// reconnecting, and QoS 1 publishes made then are stored and sent after the
// reconnect. Gateway therefore checks IsConnectionOpen, which is true only
// while the network connection is up.
type Client interface {
	IsConnectionOpen() bool
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Options configures Connect.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// Gateway is a device.Sensor and device.Actuator over MQTT.
type Gateway struct {
	client Client
	prefix string
	now    func() time.Time
	log    *slog.Logger
}

// Connect dials the broker and returns a Gateway.
func Connect(opts Options, log *slog.Logger) (*Gateway, error) {
	if opts.ClientID == "" {
		opts.ClientID = "climate-scheduler"
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "mqtt"))

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("connection lost", "error", err)
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			log.Info("connected", "broker", opts.Broker)
		})

	client := paho.NewClient(po)
	if err := dial(client, opts.Broker, connectTimeout); err != nil {
		return nil, err
	}
	return NewGateway(client, opts.TopicPrefix, nil, log), nil
}

// connector is the part of paho.Client used by dial.
type connector interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
}

// dial connects c within timeout. On failure c is disconnected so that
// connect-retry stops dialing in the background.
func dial(c connector, broker string, timeout time.Duration) error {
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		c.Disconnect(0)
		return fmt.Errorf("connect to broker %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		c.Disconnect(0)
		return fmt.Errorf("connect to broker %s: %w", broker, err)
	}
	return nil
}

// NewGateway wraps an existing client. now may be nil.
func NewGateway(client Client, prefix string, now func() time.Time, log *slog.Logger) *Gateway {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{client: client, prefix: prefix, now: now, log: log}
}

func withDefaultWait(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, defaultWait)
}

// wait blocks until tok completes or ctx ends.
func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadTemperature subscribes to the sensor's retained topic and returns the
// first reading delivered.
func (g *Gateway) ReadTemperature(ctx context.Context, sensorID string) (float64, error) {
	ctx, cancel := withDefaultWait(ctx)
	defer cancel()

	topic := TemperatureTopic(g.prefix, sensorID)
	if !g.client.IsConnectionOpen() {
		return 0, fmt.Errorf("%w: %s: %w", device.ErrSensorUnreachable, topic, errNotConnected)
	}
	got := make(chan []byte, 1)
	tok := g.client.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		select {
		case got <- m.Payload():
		default:
		}
	})
	if err := wait(ctx, tok); err != nil {
		return 0, fmt.Errorf("%w: subscribe %s: %w", device.ErrSensorUnreachable, topic, err)
	}
	defer g.client.Unsubscribe(topic)

	select {
	case payload := <-got:
		temp, err := ParseReading(payload)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", device.ErrSensorUnreachable, topic, err)
		}
		g.log.Debug("temperature read", "sensor", sensorID, "temperature", temp)
		return temp, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: no reading on %s: %w", device.ErrSensorUnreachable, topic, ctx.Err())
	}
}

// Actuate publishes a command with QoS 1 (at-least-once), not retained. A
// retained command would be replayed to the device after a restart.
func (g *Gateway) Actuate(ctx context.Context, deviceID string, mode logic.Mode, targetTemp float64) error {
	ctx, cancel := withDefaultWait(ctx)
	defer cancel()

	payload, err := FormatCommand(mode, targetTemp, g.now())
	if err != nil {
		return fmt.Errorf("format command: %w", err)
	}
	topic := CommandTopic(g.prefix, deviceID)
	// paho stores a QoS 1 publish made while reconnecting and sends it
	// later, after this tick has already reported failure.
	if !g.client.IsConnectionOpen() {
		return fmt.Errorf("%w: %s: %w", device.ErrActuatorUnreachable, topic, errNotConnected)
	}
	if err := wait(ctx, g.client.Publish(topic, 1, false, payload)); err != nil {
		return fmt.Errorf("%w: publish %s: %w", device.ErrActuatorUnreachable, topic, err)
	}
	g.log.Debug("command published", "device", deviceID, "mode", mode, "target_temp", targetTemp)
	return nil
}

// IsConnected reports whether the broker connection is up. A client that
// is reconnecting reports false.
func (g *Gateway) IsConnected() bool {
	return g.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (g *Gateway) Close() error {
	g.client.Disconnect(1000) // 1 second quiesce
	return nil
}
