package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweeney/climate-scheduler/internal/logic"
)

// maxBody caps how much of a response body is read.
const maxBody = 64 << 10

// HTTPClient is a Sensor and Actuator speaking the device vendor's REST API.
//
//	GET  {base}/devices/{id}/temperature  -> {"temperature": 31.5}
//	POST {base}/devices/{id}/command      <- {"mode": "COOL", "target_temp": 26}
//
// Every call passes through the breaker. Deadlines come from ctx.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *Breaker
	log     *slog.Logger
}

// NewHTTPClient creates an HTTPClient. client and breaker may be nil.
func NewHTTPClient(baseURL, token string, client *http.Client, breaker *Breaker, log *slog.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	if breaker == nil {
		breaker = NewBreaker("device-http", DefaultBreakerConfig, log)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		breaker: breaker,
		log:     log.With(slog.String("component", "device-http")),
	}
}

func (c *HTTPClient) endpoint(id, leaf string) string {
	return c.baseURL + "/devices/" + url.PathEscape(id) + "/" + leaf
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, data, nil
}

// ReadTemperature fetches the current reading for sensorID.
func (c *HTTPClient) ReadTemperature(ctx context.Context, sensorID string) (float64, error) {
	var temp float64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		status, data, err := c.do(ctx, http.MethodGet, c.endpoint(sensorID, "temperature"), nil)
		if err != nil {
			return err
		}
		if status < 200 || status > 299 {
			return fmt.Errorf("status %d", status)
		}
		var r Reading
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("decode reading: %w", err)
		}
		if r.Temperature == nil {
			return fmt.Errorf("reading has no temperature")
		}
		temp = *r.Temperature
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSensorUnreachable, sensorID, err)
	}
	c.log.Debug("temperature read", "sensor", sensorID, "temperature", temp)
	return temp, nil
}

// Actuate posts a command to deviceID. A 4xx answer is a rejection; any
// other failure means the device is unreachable.
func (c *HTTPClient) Actuate(ctx context.Context, deviceID string, mode logic.Mode, targetTemp float64) error {
	body, err := json.Marshal(Command{Mode: mode, TargetTemp: targetTemp})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		status, data, err := c.do(ctx, http.MethodPost, c.endpoint(deviceID, "command"), body)
		if err != nil {
			return err
		}
		switch {
		case status >= 200 && status <= 299:
			return nil
		case status >= 400 && status <= 499:
			return fmt.Errorf("%w: status %d: %s", ErrActuatorRejected, status, bytes.TrimSpace(data))
		default:
			return fmt.Errorf("status %d", status)
		}
	})
	switch {
	case err == nil:
		c.log.Debug("command sent", "device", deviceID, "mode", mode, "target_temp", targetTemp)
		return nil
	case errors.Is(err, ErrActuatorRejected):
		return fmt.Errorf("actuate %s: %w", deviceID, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrActuatorUnreachable, deviceID, err)
	}
}
