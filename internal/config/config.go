// Package config loads the scheduler's YAML configuration and applies
// environment overrides for secrets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/sweeney/climate-scheduler/internal/holiday"
	"github.com/sweeney/climate-scheduler/internal/logic"
)

// Environment variables read by ApplyEnv.
const (
	EnvDeviceToken   = "CLIMATE_DEVICE_TOKEN"
	EnvRedisPassword = "CLIMATE_REDIS_PASSWORD"
	EnvRedisAddr     = "CLIMATE_REDIS_ADDR"
)

// Config is the full configuration file.
type Config struct {
	Timezone    string         `yaml:"timezone"`
	Interval    time.Duration  `yaml:"interval"`
	CallTimeout time.Duration  `yaml:"call_timeout"`
	HTTPAddr    string         `yaml:"http_addr"`
	Calendar    CalendarConfig `yaml:"calendar"`
	Store       StoreConfig    `yaml:"store"`
	Device      DeviceConfig   `yaml:"device"`
}

type CalendarConfig struct {
	Weekend       []string `yaml:"weekend"`
	Holidays      string   `yaml:"holidays"`
	ExtraHolidays []string `yaml:"extra_holidays"`
	BannedHours   []int    `yaml:"banned_hours"`
}

type StoreConfig struct {
	Backend    string         `yaml:"backend"`
	HistoryTTL time.Duration  `yaml:"history_ttl"`
	Redis      RedisConfig    `yaml:"redis"`
	DynamoDB   DynamoDBConfig `yaml:"dynamodb"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

type DeviceConfig struct {
	SensorID string            `yaml:"sensor_id"`
	DeviceID string            `yaml:"device_id"`
	Sensor   string            `yaml:"sensor"`
	Actuator string            `yaml:"actuator"`
	HTTP     DeviceHTTPConfig  `yaml:"http"`
	MQTT     DeviceMQTTConfig  `yaml:"mqtt"`
	Kafka    DeviceKafkaConfig `yaml:"kafka"`
}

type DeviceHTTPConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Breaker BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

type DeviceMQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type DeviceKafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Store backends.
const (
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Device transports.
const (
	TransportHTTP  = "http"
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
)

// Default returns the configuration used for omitted fields.
func Default() Config {
	return Config{
		Timezone:    "UTC",
		Interval:    10 * time.Minute,
		CallTimeout: 10 * time.Second,
		HTTPAddr:    ":8080",
		Calendar: CalendarConfig{
			Weekend:     []string{"saturday", "sunday"},
			Holidays:    "none",
			BannedHours: append([]int(nil), logic.DefaultBannedHours...),
		},
		Store: StoreConfig{
			Backend:    BackendRedis,
			HistoryTTL: 25 * time.Hour,
			Redis:      RedisConfig{Addr: "localhost:6379"},
		},
		Device: DeviceConfig{
			SensorID: "room",
			DeviceID: "ac",
			Sensor:   TransportHTTP,
			Actuator: TransportHTTP,
			HTTP: DeviceHTTPConfig{
				Breaker: BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute},
			},
			MQTT: DeviceMQTTConfig{
				ClientID:    "climate-scheduler",
				TopicPrefix: "climate",
			},
			Kafka: DeviceKafkaConfig{Topic: "climate.commands"},
		},
	}
}

// Parse decodes YAML from r on top of Default. Unknown fields are rejected.
// An empty document yields the defaults.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and addresses from the environment. Empty
// values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDeviceToken); v != "" {
		c.Device.HTTP.Token = v
	}
	if v := getenv(EnvRedisPassword); v != "" {
		c.Store.Redis.Password = v
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.Store.Redis.Addr = v
	}
}

// Location loads the operating timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Weekend parses Calendar.Weekend.
func (c Config) Weekend() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(c.Calendar.Weekend))
	for _, name := range c.Calendar.Weekend {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		out = append(out, d)
	}
	return out, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call_timeout must be positive"))
	}
	if _, err := c.Weekend(); err != nil {
		errs = append(errs, fmt.Errorf("calendar.weekend: %w", err))
	}
	if _, err := holiday.New(c.Calendar.Holidays, c.Calendar.ExtraHolidays); err != nil {
		errs = append(errs, fmt.Errorf("calendar: %w", err))
	}
	for _, h := range c.Calendar.BannedHours {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Errorf("calendar.banned_hours: %d out of range 0-23", h))
		}
	}

	// The completion record must outlive the calendar day it guards.
	if c.Store.HistoryTTL <= 24*time.Hour {
		errs = append(errs, fmt.Errorf("store.history_ttl must exceed 24h, got %s", c.Store.HistoryTTL))
	}
	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("store.redis.addr is required"))
		}
	case BackendDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			errs = append(errs, fmt.Errorf("store.dynamodb.table is required"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	d := c.Device
	if d.SensorID == "" || d.DeviceID == "" {
		errs = append(errs, fmt.Errorf("device.sensor_id and device.device_id are required"))
	}
	switch d.Sensor {
	case TransportHTTP, TransportMQTT:
	default:
		errs = append(errs, fmt.Errorf("unknown device.sensor %q", d.Sensor))
	}
	switch d.Actuator {
	case TransportHTTP, TransportMQTT, TransportKafka:
	default:
		errs = append(errs, fmt.Errorf("unknown device.actuator %q", d.Actuator))
	}
	if (d.Sensor == TransportHTTP || d.Actuator == TransportHTTP) && d.HTTP.BaseURL == "" {
		errs = append(errs, fmt.Errorf("device.http.base_url is required"))
	}
	if (d.Sensor == TransportMQTT || d.Actuator == TransportMQTT) && d.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("device.mqtt.broker is required"))
	}
	if d.Actuator == TransportKafka && (len(d.Kafka.Brokers) == 0 || d.Kafka.Topic == "") {
		errs = append(errs, fmt.Errorf("device.kafka.brokers and device.kafka.topic are required"))
	}
	return errors.Join(errs...)
}
