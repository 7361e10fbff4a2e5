package variables

import "strings"

// Map is an ordered multi-valued collection. Keys compare case-insensitively
// unless the collection was created case sensitive; the first spelling seen
// for a key is kept for reporting.
type Map struct {
	caseSensitive bool
	entries       map[string]*mapEntry
	order         []string
}

type mapEntry struct {
	key    string
	values []string
}

func NewMap(caseSensitive bool) *Map {
	return &Map{
		caseSensitive: caseSensitive,
		entries:       make(map[string]*mapEntry),
	}
}

func (m *Map) normalize(key string) string {
	if m.caseSensitive {
		return key
	}
	return strings.ToLower(key)
}

func (m *Map) Add(key, value string) {
	norm := m.normalize(key)
	entry, ok := m.entries[norm]
	if !ok {
		entry = &mapEntry{key: key}
		m.entries[norm] = entry
		m.order = append(m.order, norm)
	}
	entry.values = append(entry.values, value)
}

// Set replaces every value stored under key.
func (m *Map) Set(key string, values ...string) {
	norm := m.normalize(key)
	entry, ok := m.entries[norm]
	if !ok {
		entry = &mapEntry{key: key}
		m.entries[norm] = entry
		m.order = append(m.order, norm)
	}
	entry.values = append(entry.values[:0], values...)
}

func (m *Map) Remove(key string) {
	norm := m.normalize(key)
	if _, ok := m.entries[norm]; !ok {
		return
	}
	delete(m.entries, norm)
	for i, k := range m.order {
		if k == norm {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Map) Get(key string) []string {
	if m == nil {
		return nil
	}
	entry, ok := m.entries[m.normalize(key)]
	if !ok {
		return nil
	}
	return entry.values
}

// First returns the first value stored under key.
func (m *Map) First(key string) (string, bool) {
	values := m.Get(key)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Keys returns the original key spellings in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.order))
	for _, norm := range m.order {
		out = append(out, m.entries[norm].key)
	}
	return out
}

// Len counts values, not keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	total := 0
	for _, entry := range m.entries {
		total += len(entry.values)
	}
	return total
}

// Each visits every key/value pair in insertion order until fn returns false.
func (m *Map) Each(fn func(key, value string) bool) {
	if m == nil {
		return
	}
	for _, norm := range m.order {
		entry := m.entries[norm]
		for _, value := range entry.values {
			if !fn(entry.key, value) {
				return
			}
		}
	}
}

func (m *Map) matchesKey(key, want string) bool {
	if m.caseSensitive {
		return key == want
	}
	return strings.EqualFold(key, want)
}
