package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	telemetry "sensorfleet-cloud/internal/telemetry/domain"
)

const (
	defaultKeyPrefix = "latest:"
	defaultTTL       = 24 * time.Hour
)

// LatestCache keeps the newest reading per (device, sensor) in a Redis
// hash keyed by device.
type LatestCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// CacheOption configures the cache.
type CacheOption func(*LatestCache)

// WithKeyPrefix overrides the default key prefix.
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *LatestCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL overrides how long a device hash lives without writes.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *LatestCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewLatestCache constructs a cache on an existing client.
func NewLatestCache(client *redis.Client, opts ...CacheOption) (*LatestCache, error) {
	if client == nil {
		return nil, errors.New("latest cache: nil client")
	}
	cache := &LatestCache{client: client, prefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

type cachedReading struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// SetLatest stores a reading, keeping only the newest per sensor.
func (c *LatestCache) SetLatest(ctx context.Context, reading telemetry.Reading) error {
	if c == nil || c.client == nil {
		return errors.New("latest cache: nil client")
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	key := c.prefix + reading.DeviceID
	current, err := c.client.HGet(ctx, key, reading.SensorID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err == nil {
		var existing cachedReading
		if unmarshalErr := json.Unmarshal([]byte(current), &existing); unmarshalErr == nil && existing.At.After(reading.At) {
			return nil
		}
	}

	payload, err := json.Marshal(cachedReading{Value: reading.Value, At: reading.At.UTC()})
	if err != nil {
		return err
	}
	if err := c.client.HSet(ctx, key, reading.SensorID, payload).Err(); err != nil {
		return err
	}
	return c.client.Expire(ctx, key, c.ttl).Err()
}

// Latest returns every cached sensor reading of a device, sorted by
// sensor id. A device with no cached readings yields an empty slice.
func (c *LatestCache) Latest(ctx context.Context, deviceID string) ([]telemetry.Reading, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("latest cache: nil client")
	}
	if deviceID == "" {
		return nil, errors.New("latest cache: empty device id")
	}

	fields, err := c.client.HGetAll(ctx, c.prefix+deviceID).Result()
	if err != nil {
		return nil, err
	}

	result := make([]telemetry.Reading, 0, len(fields))
	for sensorID, raw := range fields {
		var cached cachedReading
		if err := json.Unmarshal([]byte(raw), &cached); err != nil {
			continue
		}
		result = append(result, telemetry.Reading{
			DeviceID: deviceID,
			SensorID: sensorID,
			Value:    cached.Value,
			At:       cached.At.UTC(),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SensorID < result[j].SensorID })
	return result, nil
}

// Ping verifies connectivity for health checks.
func (c *LatestCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("latest cache: nil client")
	}
	return c.client.Ping(ctx).Err()
}
