// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/agourakis82/beagle-sub000/internal/config"
)

// DefaultRedisTimeout bounds each Redis round trip.
const DefaultRedisTimeout = 2 * time.Second

// OpenRedis parses a redis:// URL, creates a client and verifies the
// connection with a ping.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// calendarScript increments the day key unless it has reached the limit.
//
//	KEYS[1] day key
//	ARGV[1] limit, ARGV[2] ttl seconds
var calendarScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

// rollingScript is a sliding window over a sorted set scored by unix ms.
//
//	KEYS[1] window key
//	ARGV[1] cutoff ms, ARGV[2] limit, ARGV[3] now ms, ARGV[4] member, ARGV[5] ttl ms
var rollingScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local n = redis.call('ZCARD', KEYS[1])
if n >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisDayCounter shares the per-day escalation count between processes.
// The check and the increment run as one Lua script, so concurrent
// processes cannot over-commit the daily limit.
type RedisDayCounter struct {
	client  *redis.Client
	prefix  string
	window  config.DailyWindow
	loc     *time.Location
	timeout time.Duration
}

// NewRedisDayCounter creates a counter storing its keys under prefix.
func NewRedisDayCounter(client *redis.Client, prefix string, window config.DailyWindow, loc *time.Location) *RedisDayCounter {
	if loc == nil {
		loc = time.UTC
	}
	return &RedisDayCounter{
		client:  client,
		prefix:  prefix,
		window:  window,
		loc:     loc,
		timeout: DefaultRedisTimeout,
	}
}

// TryIncrement implements DayCounter.
func (r *RedisDayCounter) TryIncrement(now time.Time, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var (
		res int64
		err error
	)
	if r.window == config.WindowCalendar {
		ttl := int64((2 * DayWindow) / time.Second)
		res, err = calendarScript.Run(ctx, r.client, []string{r.calendarKey(now)}, limit, ttl).Int64()
	} else {
		nowMs := now.UnixMilli()
		cutoff := now.Add(-DayWindow).UnixMilli()
		member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
		ttl := DayWindow.Milliseconds()
		res, err = rollingScript.Run(ctx, r.client, []string{r.rollingKey()}, cutoff, limit, nowMs, member, ttl).Int64()
	}
	if err != nil {
		return false, fmt.Errorf("redis day counter: %w", err)
	}
	return res == 1, nil
}

// Count implements DayCounter.
func (r *RedisDayCounter) Count(now time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if r.window == config.WindowCalendar {
		n, err := r.client.Get(ctx, r.calendarKey(now)).Int()
		if err == redis.Nil {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("redis day counter: %w", err)
		}
		return n, nil
	}

	cutoff := "(" + strconv.FormatInt(now.Add(-DayWindow).UnixMilli(), 10)
	n, err := r.client.ZCount(ctx, r.rollingKey(), cutoff, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis day counter: %w", err)
	}
	return int(n), nil
}

func (r *RedisDayCounter) calendarKey(now time.Time) string {
	return fmt.Sprintf("%s:%s", r.prefix, DayKey(now, r.loc))
}

func (r *RedisDayCounter) rollingKey() string {
	return r.prefix + ":rolling"
}
