// Package store persists trigger rules and daily completion records on a
// key-value backend (Redis, DynamoDB or in-memory).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by KV.Get when the key is absent or expired.
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable wraps any backend failure. Callers may retry on the
	// next tick.
	ErrUnavailable = errors.New("store unavailable")

	// ErrMalformedRecord marks a stored value that could not be decoded.
	// Listings skip such records.
	ErrMalformedRecord = errors.New("malformed record")
)

// Entry is a key with its raw value.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the small key-value contract every backend implements.
// A ttl of 0 means no expiry.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutIfAbsent writes only when key does not exist. It reports whether
	// the write happened.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// List returns every live entry whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// unavailable wraps a backend error so callers can match ErrUnavailable
// while keeping the cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
