package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

type KeyType string

const (
	KeyIP     KeyType = "ip"
	KeyIPPath KeyType = "ip_path"
)

// DefaultMaxKeys bounds the number of tracked clients. The least recently
// seen client loses its bucket first.
const DefaultMaxKeys = 10000

func ParseKeyType(raw string) (KeyType, error) {
	switch KeyType(raw) {
	case "", KeyIP:
		return KeyIP, nil
	case KeyIPPath:
		return KeyIPPath, nil
	}
	return "", fmt.Errorf("rate limit key %q must be ip|ip_path", raw)
}

// Key builds the bucket key for a client and path.
func (k KeyType) Key(ip, path string) string {
	if k == KeyIPPath {
		return ip + "|" + path
	}
	return ip
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

func NewLimiter(rps float64, burst, maxKeys int) (*Limiter, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	buckets, err := lru.New[string, *rate.Limiter](maxKeys)
	if err != nil {
		return nil, err
	}
	return &Limiter{limit: rate.Limit(rps), burst: burst, buckets: buckets}, nil
}

// Allow returns true if the request is allowed, false if rate limited.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" || l.limit <= 0 || l.burst <= 0 {
		return true
	}

	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, b)
	}
	l.mu.Unlock()

	return b.AllowN(now, 1)
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	return l.buckets.Len()
}
