package transform

import (
	"fmt"
	"strings"
)

// Func is a pure transformation. It never fails; malformed input yields a
// best-effort result.
type Func func(string) string

var registry = map[string]Func{}

// Register adds a transformation under a case-insensitive name. It is meant
// to be called from init functions only.
func Register(name string, fn Func) {
	key := strings.ToLower(name)
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("transform %q registered twice", name))
	}
	registry[key] = fn
}

func Lookup(name string) (Func, bool) {
	fn, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

// Names lists the registered transformations.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

type Step struct {
	Name string
	Fn   Func
}

// Chain is an ordered list of transformations applied left to right.
type Chain []Step

// NewChain resolves names into a chain. "none" discards every step before it.
func NewChain(names []string) (Chain, error) {
	var chain Chain
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.EqualFold(name, "none") {
			chain = chain[:0]
			continue
		}
		fn, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown transformation %q", name)
		}
		chain = append(chain, Step{Name: name, Fn: fn})
	}
	return chain, nil
}

func (c Chain) Names() []string {
	out := make([]string, len(c))
	for i, step := range c {
		out[i] = step.Name
	}
	return out
}

// Key identifies the chain for caching.
func (c Chain) Key() string {
	return strings.ToLower(strings.Join(c.Names(), ","))
}

// Apply runs every step and returns the result with the names applied.
func (c Chain) Apply(value string) (string, []string) {
	for _, step := range c {
		value = step.Fn(value)
	}
	return value, c.Names()
}

// Intermediate is one value produced while walking a chain.
type Intermediate struct {
	Value   string
	Applied []string
}

// Steps returns the input followed by every distinct intermediate value,
// which is what multiMatch rules are evaluated against.
func (c Chain) Steps(value string) []Intermediate {
	out := []Intermediate{{Value: value}}
	names := c.Names()
	for i, step := range c {
		next := step.Fn(value)
		if next != value {
			out = append(out, Intermediate{Value: next, Applied: names[:i+1]})
		}
		value = next
	}
	return out
}
