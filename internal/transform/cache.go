package transform

import (
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 512

type cacheEntry struct {
	chain  string
	input  string
	output string
}

// Cache memoises chain results inside one transaction. It is not safe for
// concurrent use across transactions, and does not need to be.
type Cache struct {
	entries *lru.Cache[uint64, cacheEntry]
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, _ := lru.New[uint64, cacheEntry](size)
	return &Cache{entries: entries}
}

// Apply runs chain over value, reusing an earlier result for the same pair.
func (c *Cache) Apply(chain Chain, value string) (string, []string) {
	if c == nil || len(chain) == 0 {
		return chain.Apply(value)
	}
	key := chain.Key()
	digest := xxhash.New()
	_, _ = digest.WriteString(key)
	_, _ = digest.WriteString("\x00")
	_, _ = digest.WriteString(value)
	hash := digest.Sum64()

	if entry, ok := c.entries.Get(hash); ok && entry.chain == key && entry.input == value {
		return entry.output, chain.Names()
	}
	out, names := chain.Apply(value)
	c.entries.Add(hash, cacheEntry{chain: key, input: value, output: out})
	return out, names
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func (c *Cache) Purge() {
	if c != nil {
		c.entries.Purge()
	}
}
