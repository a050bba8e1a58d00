package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultHistoryTTL keeps a completion record a little past one day.
const DefaultHistoryTTL = 25 * time.Hour

// doneValue is the opaque completion marker.
var doneValue = []byte("done")

// HistoryKey returns the key of the completion record for dateKey (YYYY-MM-DD).
func HistoryKey(dateKey string) string {
	return PrefixHistory + dateKey
}

// History records which days have already been actuated.
type History struct {
	kv  KV
	ttl time.Duration
}

// NewHistory creates a History on kv. ttl <= 0 selects DefaultHistoryTTL.
func NewHistory(kv KV, ttl time.Duration) *History {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &History{kv: kv, ttl: ttl}
}

// TTL returns the record lifetime.
func (h *History) TTL() time.Duration { return h.ttl }

// AlreadyActuatedToday reports whether a completion record exists for dateKey.
// A record that exists but cannot be decoded still counts as present.
func (h *History) AlreadyActuatedToday(ctx context.Context, dateKey string) (bool, error) {
	_, err := h.kv.Get(ctx, HistoryKey(dateKey))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	case errors.Is(err, ErrMalformedRecord):
		return true, nil
	default:
		return false, fmt.Errorf("check history %s: %w", dateKey, err)
	}
}

// MarkActuatedToday writes the completion record for dateKey if none exists.
// created is false when another tick already wrote it.
func (h *History) MarkActuatedToday(ctx context.Context, dateKey string) (created bool, err error) {
	created, err = h.kv.PutIfAbsent(ctx, HistoryKey(dateKey), doneValue, h.ttl)
	if err != nil {
		return false, fmt.Errorf("mark history %s: %w", dateKey, err)
	}
	return created, nil
}
