package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 100

// Redis is a KV backed by a Redis server.
type Redis struct {
	client *redis.Client
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, unavailable("redis ping "+opts.Addr, err)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable("redis get "+key, err)
	}
	return data, nil
}

// Put stores value under key. A ttl of 0 keeps the key forever.
func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("redis set "+key, err)
	}
	return nil
}

// PutIfAbsent uses SET NX.
func (r *Redis) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable("redis setnx "+key, err)
	}
	return ok, nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return unavailable("redis del "+key, err)
	}
	return nil
}

// List scans keys under prefix and fetches their values with MGET.
// Keys that expire between SCAN and MGET are dropped.
func (r *Redis) List(ctx context.Context, prefix string) ([]Entry, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("redis scan "+prefix, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("redis mget "+prefix, err)
	}

	out := make([]Entry, 0, len(keys))
	for i, v := range vals {
		switch s := v.(type) {
		case string:
			out = append(out, Entry{Key: keys[i], Value: []byte(s)})
		case nil:
			// expired
		default:
			out = append(out, Entry{Key: keys[i], Value: []byte(fmt.Sprint(s))})
		}
	}
	return out, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
