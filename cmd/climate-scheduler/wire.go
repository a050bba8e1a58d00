package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sweeney/climate-scheduler/internal/config"
	"github.com/sweeney/climate-scheduler/internal/device"
	"github.com/sweeney/climate-scheduler/internal/holiday"
	"github.com/sweeney/climate-scheduler/internal/logic"
	"github.com/sweeney/climate-scheduler/internal/mqtt"
	"github.com/sweeney/climate-scheduler/internal/scheduler"
	"github.com/sweeney/climate-scheduler/internal/status"
	"github.com/sweeney/climate-scheduler/internal/store"
)

// devices holds the sensor and actuator picked by config.
type devices struct {
	sensor   device.Sensor
	actuator device.Actuator

	// mqtt is set when either side talks MQTT.
	mqtt *mqtt.Gateway

	closers []io.Closer
}

func (d *devices) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// app is everything a tick needs, built from config.
type app struct {
	cfg      config.Config
	kv       store.KV
	triggers *store.Triggers
	history  *store.History
	devices  *devices
	sched    *scheduler.Scheduler
}

func (a *app) Close() error {
	var errs []error
	if a.devices != nil {
		errs = append(errs, a.devices.Close())
	}
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	return errors.Join(errs...)
}

func (a *app) statusConfig() status.Config {
	return status.Config{
		Interval: a.cfg.Interval,
		Timezone: a.cfg.Timezone,
		Backend:  a.cfg.Store.Backend,
		Sensor:   a.cfg.Device.Sensor,
		Actuator: a.cfg.Device.Actuator,
		HTTPAddr: a.cfg.HTTPAddr,
	}
}

func openKV(ctx context.Context, cfg config.Config, log *slog.Logger) (store.KV, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		return store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
	case config.BackendDynamoDB:
		return store.NewDynamo(ctx, store.DynamoOptions{
			Table:    cfg.Store.DynamoDB.Table,
			Region:   cfg.Store.DynamoDB.Region,
			Endpoint: cfg.Store.DynamoDB.Endpoint,
		})
	case config.BackendMemory:
		log.Warn("using in-memory store; rules and completion records are lost on exit")
		return store.NewMemory(nil), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func openDevices(cfg config.Config, log *slog.Logger) (*devices, error) {
	d := &devices{}
	dc := cfg.Device

	var httpClient *device.HTTPClient
	if dc.Sensor == config.TransportHTTP || dc.Actuator == config.TransportHTTP {
		breaker := device.NewBreaker("device-http", device.BreakerConfig{
			MaxFailures:  dc.HTTP.Breaker.MaxFailures,
			ResetTimeout: dc.HTTP.Breaker.ResetTimeout,
		}, log)
		httpClient = device.NewHTTPClient(dc.HTTP.BaseURL, dc.HTTP.Token, nil, breaker, log)
	}

	if dc.Sensor == config.TransportMQTT || dc.Actuator == config.TransportMQTT {
		gw, err := mqtt.Connect(mqtt.Options{
			Broker:      dc.MQTT.Broker,
			ClientID:    dc.MQTT.ClientID,
			TopicPrefix: dc.MQTT.TopicPrefix,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("init mqtt: %w", err)
		}
		d.mqtt = gw
		d.closers = append(d.closers, gw)
	}

	switch dc.Sensor {
	case config.TransportHTTP:
		d.sensor = httpClient
	case config.TransportMQTT:
		d.sensor = d.mqtt
	default:
		d.Close()
		return nil, fmt.Errorf("unknown sensor transport %q", dc.Sensor)
	}

	switch dc.Actuator {
	case config.TransportHTTP:
		d.actuator = httpClient
	case config.TransportMQTT:
		d.actuator = d.mqtt
	case config.TransportKafka:
		k := device.NewKafkaActuator(dc.Kafka.Brokers, dc.Kafka.Topic, log)
		d.actuator = k
		d.closers = append(d.closers, k)
	default:
		d.Close()
		return nil, fmt.Errorf("unknown actuator transport %q", dc.Actuator)
	}
	return d, nil
}

// buildStore opens only the store; used by the admin commands.
func buildStore(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	kv, err := opts.openKV(ctx, cfg, opts.log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{
		cfg:      cfg,
		kv:       kv,
		triggers: store.NewTriggers(kv, opts.log),
		history:  store.NewHistory(kv, cfg.Store.HistoryTTL),
	}, nil
}

// buildApp opens the store and the devices and assembles the scheduler.
func buildApp(ctx context.Context, opts *RootOptions) (*app, error) {
	a, err := buildStore(ctx, opts)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	weekend, err := cfg.Weekend()
	if err != nil {
		a.Close()
		return nil, err
	}
	holidays, err := holiday.New(cfg.Calendar.Holidays, cfg.Calendar.ExtraHolidays)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init holidays: %w", err)
	}
	gate := logic.NewGate(weekend, cfg.Calendar.BannedHours, holidays)

	a.devices, err = opts.openDevices(cfg, opts.log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.sched = scheduler.New(scheduler.Config{
		Location:    loc,
		SensorID:    cfg.Device.SensorID,
		DeviceID:    cfg.Device.DeviceID,
		CallTimeout: cfg.CallTimeout,
	}, gate, a.triggers, a.history, a.devices.sensor, a.devices.actuator, opts.log)
	return a, nil
}
