package waf

import (
	"io"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces transaction ids. Implementations must be safe for
// concurrent use.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues v4 UUIDs from a once-seeded random source.
type UUIDGenerator struct {
	mu      sync.Mutex
	reader  io.Reader
	counter atomic.Uint64
}

// NewUUIDGenerator seeds the generator. A zero seed uses the current time.
func NewUUIDGenerator(seed int64) *UUIDGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &UUIDGenerator{reader: rand.New(rand.NewSource(seed))}
}

func (g *UUIDGenerator) NewID() string {
	n := g.counter.Add(1)
	g.mu.Lock()
	id, err := uuid.NewRandomFromReader(g.reader)
	g.mu.Unlock()
	if err != nil {
		return "tx-" + strconv.FormatUint(n, 10)
	}
	return id.String()
}
