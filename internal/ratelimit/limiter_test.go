package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllow(t *testing.T) {
	l, err := NewLimiter(1, 2, 0)
	require.NoError(t, err)
	now := time.Now()

	assert.True(t, l.Allow("ip:1", now), "first request")
	assert.True(t, l.Allow("ip:1", now), "second request")
	assert.False(t, l.Allow("ip:1", now), "third request is limited")
	assert.True(t, l.Allow("ip:1", now.Add(1500*time.Millisecond)), "bucket refills")
}

func TestLimiterDifferentKeys(t *testing.T) {
	l, err := NewLimiter(1, 1, 0)
	require.NoError(t, err)
	now := time.Now()

	assert.True(t, l.Allow("ip:1", now))
	assert.True(t, l.Allow("ip:2", now))
	assert.False(t, l.Allow("ip:1", now))
}

func TestLimiterEvictsOldestKey(t *testing.T) {
	l, err := NewLimiter(1, 1, 2)
	require.NoError(t, err)
	now := time.Now()

	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now))
	assert.True(t, l.Allow("c", now))
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Allow("a", now), "evicted key starts with a full bucket")
}

func TestLimiterDisabled(t *testing.T) {
	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow("a", time.Now()))

	l, err := NewLimiter(0, 0, 0)
	require.NoError(t, err)
	assert.True(t, l.Allow("a", time.Now()))
	assert.True(t, l.Allow("a", time.Now()))
}

func TestKeyType(t *testing.T) {
	k, err := ParseKeyType("ip_path")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.1|/login", k.Key("203.0.113.1", "/login"))

	k, err = ParseKeyType("")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.1", k.Key("203.0.113.1", "/login"))

	_, err = ParseKeyType("cookie")
	assert.Error(t, err)
}
