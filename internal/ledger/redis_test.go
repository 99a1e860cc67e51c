// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agourakis82/beagle-sub000/internal/config"
	"github.com/agourakis82/beagle-sub000/internal/tier"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisDayCounter_Calendar(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisDayCounter(client, "test:day", config.WindowCalendar, time.UTC)
	now := time.Date(2026, 7, 4, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, err := c.TryIncrement(now, 3)
		require.NoError(t, err)
		require.True(t, ok, "call %d", i)
	}
	ok, err := c.TryIncrement(now, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Count(now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := mr.Get("test:day:2026-07-04")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.True(t, mr.TTL("test:day:2026-07-04") > 0, "day key must expire")

	// Next day starts from zero.
	ok, err = c.TryIncrement(now.Add(24*time.Hour), 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDayCounter_Rolling(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedisDayCounter(client, "test:day", config.WindowRolling, nil)
	t0 := time.Date(2026, 7, 4, 10, 0, 0, 0, time.UTC)

	ok, err := c.TryIncrement(t0, 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = c.TryIncrement(t0.Add(time.Hour), 2)
	require.True(t, ok)
	ok, _ = c.TryIncrement(t0.Add(2*time.Hour), 2)
	assert.False(t, ok)

	later := t0.Add(24*time.Hour + time.Minute)
	ok, err = c.TryIncrement(later, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := c.Count(later)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRedisDayCounter_SharedBetweenLedgers(t *testing.T) {
	_, client := newTestRedis(t)
	policy := config.RunQuotaPolicy{EnableEscalation: true, EscalationMaxCallsPerRun: 10, EscalationMaxTokensPerRun: 10_000, EscalationMaxCallsPerDay: 2}

	// Two processes, one Redis.
	a := New(policy, WithDayCounter(NewRedisDayCounter(client, "shared", config.WindowCalendar, nil)))
	b := New(policy, WithDayCounter(NewRedisDayCounter(client, "shared", config.WindowCalendar, nil)))

	assert.True(t, a.TryReserve("run-a", tier.Escalation, 1))
	assert.True(t, b.TryReserve("run-b", tier.Escalation, 1))
	assert.False(t, a.TryReserve("run-a", tier.Escalation, 1))
	assert.False(t, b.TryReserve("run-b", tier.Escalation, 1))
}

func TestRedisDayCounter_ErrorFailsClosed(t *testing.T) {
	mr, client := newTestRedis(t)
	policy := config.PolicyForProfile(config.ProfileProd)
	l := New(policy, WithDayCounter(NewRedisDayCounter(client, "down", config.WindowRolling, nil)))

	mr.Close()

	assert.False(t, l.TryReserve("run", tier.Escalation, 1))
	assert.Zero(t, l.Snapshot("run").Tier(tier.Escalation).Calls)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = OpenRedis(context.Background(), "not-a-url")
	assert.Error(t, err)
}
