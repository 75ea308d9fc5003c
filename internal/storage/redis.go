package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisMirror keeps the most recent samples of a pool in a sorted set scored by block number.
type RedisMirror struct {
	client    redis.Cmdable
	key       string
	retention int64
	ttl       time.Duration
}

// RedisMirrorOptions configures RedisMirror.
type RedisMirrorOptions struct {
	KeyPrefix string
	Pool      string
	Retention int
	TTL       time.Duration
}

// NewRedisMirror builds a mirror sink over client.
func NewRedisMirror(client redis.Cmdable, opts RedisMirrorOptions) *RedisMirror {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "poolwatch"
	}
	retention := int64(opts.Retention)
	if retention <= 0 {
		retention = 1000
	}
	return &RedisMirror{
		client:    client,
		key:       fmt.Sprintf("%s:samples:%s", prefix, strings.ToLower(opts.Pool)),
		retention: retention,
		ttl:       opts.TTL,
	}
}

// Name implements Sink.
func (m *RedisMirror) Name() string { return "redis" }

// Key returns the sorted-set key written by the mirror.
func (m *RedisMirror) Key() string { return m.key }

// Append implements Sink.
func (m *RedisMirror) Append(ctx context.Context, rec SampleRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, m.key, &redis.Z{
			Score:  float64(rec.Block),
			Member: value,
		})
		pipe.ZRemRangeByRank(ctx, m.key, 0, -m.retention-1)
		if m.ttl > 0 {
			pipe.Expire(ctx, m.key, m.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror sample to redis: %w", err)
	}
	return nil
}

// Recent returns up to limit mirrored samples, newest first.
func (m *RedisMirror) Recent(ctx context.Context, limit int64) ([]SampleRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	values, err := m.client.ZRevRange(ctx, m.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read redis samples: %w", err)
	}

	out := make([]SampleRecord, 0, len(values))
	for _, v := range values {
		var rec SampleRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decode redis sample: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Sink = (*RedisMirror)(nil)
