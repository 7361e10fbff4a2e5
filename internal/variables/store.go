package variables

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/veilwaf/veil/internal/types"
)

var (
	ErrSealed   = errors.New("variable sealed by a completed phase")
	ErrReadOnly = errors.New("variable is derived and read only")
)

// MatchData is one resolved value.
type MatchData struct {
	Variable Name
	Key      string
	Value    string
}

// Name renders the value handle as NAME or NAME:key.
func (m MatchData) Name() string {
	if m.Key == "" {
		return m.Variable.String()
	}
	return m.Variable.String() + ":" + m.Key
}

// Store is the per-transaction variable store. It is not safe for concurrent use.
type Store struct {
	singles [nameCount]string
	present [nameCount]bool
	maps    [nameCount]*Map
	sealed  types.Phase
}

func NewStore() *Store {
	s := &Store{}
	for i := Name(1); i < nameCount; i++ {
		if descriptors[i].kind == kindMap {
			s.maps[i] = NewMap(descriptors[i].caseSensitive)
		}
	}
	return s
}

// Seal freezes every variable owned by phase p or an earlier phase.
func (s *Store) Seal(p types.Phase) {
	if p > s.sealed {
		s.sealed = p
	}
}

func (s *Store) Sealed() types.Phase {
	return s.sealed
}

func (s *Store) writable(n Name, want kind) error {
	if n == Unknown || n >= nameCount {
		return fmt.Errorf("unknown variable %d", n)
	}
	d := descriptors[n]
	if d.kind != want {
		if d.kind != kindSingle && d.kind != kindMap {
			return fmt.Errorf("%s: %w", d.name, ErrReadOnly)
		}
		return fmt.Errorf("%s: wrong variable kind", d.name)
	}
	if d.owner != types.PhaseUnknown && d.owner <= s.sealed {
		return fmt.Errorf("%s: %w", d.name, ErrSealed)
	}
	return nil
}

// SetSingle assigns a single-valued variable.
func (s *Store) SetSingle(n Name, value string) error {
	if err := s.writable(n, kindSingle); err != nil {
		return err
	}
	s.singles[n] = value
	s.present[n] = true
	return nil
}

// Add appends a value to a collection.
func (s *Store) Add(n Name, key, value string) error {
	if err := s.writable(n, kindMap); err != nil {
		return err
	}
	s.maps[n].Add(key, value)
	return nil
}

// Set replaces the values stored under key.
func (s *Store) Set(n Name, key string, values ...string) error {
	if err := s.writable(n, kindMap); err != nil {
		return err
	}
	s.maps[n].Set(key, values...)
	return nil
}

func (s *Store) Remove(n Name, key string) error {
	if err := s.writable(n, kindMap); err != nil {
		return err
	}
	s.maps[n].Remove(key)
	return nil
}

// Reset empties a collection.
func (s *Store) Reset(n Name) error {
	if err := s.writable(n, kindMap); err != nil {
		return err
	}
	s.maps[n] = NewMap(descriptors[n].caseSensitive)
	return nil
}

// Collection exposes the backing map of a collection for reads.
func (s *Store) Collection(n Name) *Map {
	if n >= nameCount {
		return nil
	}
	return s.maps[n]
}

// Single returns the value of a single variable and whether it was set.
func (s *Store) Single(n Name) (string, bool) {
	if n >= nameCount {
		return "", false
	}
	if descriptors[n].kind == kindCombinedSize {
		return strconv.Itoa(s.combinedSize()), true
	}
	return s.singles[n], s.present[n]
}

// Lookup returns the first value for name/key, used by macro expansion.
func (s *Store) Lookup(n Name, key string) (string, bool) {
	if !n.IsCollection() {
		return s.Single(n)
	}
	if key == "" {
		values := s.Get(Selector{Variable: n})
		if len(values) == 0 {
			return "", false
		}
		return values[0].Value, true
	}
	values := s.Get(Selector{Variable: n, Key: key})
	if len(values) == 0 {
		return "", false
	}
	return values[0].Value, true
}

// Get resolves a selector into an ordered list of values. It never fails:
// unknown or unpopulated variables yield an empty list.
func (s *Store) Get(sel Selector) []MatchData {
	if sel.Variable == Unknown || sel.Variable >= nameCount {
		if sel.Count {
			return []MatchData{{Variable: sel.Variable, Value: "0"}}
		}
		return nil
	}

	var out []MatchData
	d := descriptors[sel.Variable]
	switch d.kind {
	case kindSingle, kindCombinedSize:
		if value, ok := s.Single(sel.Variable); ok {
			out = append(out, MatchData{Variable: sel.Variable, Value: value})
		}
	case kindMap:
		out = s.collect(sel, sel.Variable, s.maps[sel.Variable], false, out)
	case kindNames:
		out = s.collect(sel, sel.Variable, s.maps[d.source], true, out)
	case kindArgs:
		out = s.collect(sel, sel.Variable, s.maps[ArgsGet], false, out)
		out = s.collect(sel, sel.Variable, s.maps[ArgsPost], false, out)
	case kindArgsNames:
		out = s.collect(sel, sel.Variable, s.maps[ArgsGet], true, out)
		out = s.collect(sel, sel.Variable, s.maps[ArgsPost], true, out)
	}

	if sel.Count {
		return []MatchData{{Variable: sel.Variable, Value: strconv.Itoa(len(out))}}
	}
	return out
}

func (s *Store) collect(sel Selector, as Name, m *Map, names bool, out []MatchData) []MatchData {
	if m == nil {
		return out
	}
	m.Each(func(key, value string) bool {
		if sel.Key != "" && !m.matchesKey(key, sel.Key) {
			return true
		}
		if sel.KeyRx != nil && !sel.KeyRx.MatchString(key) {
			return true
		}
		for _, ex := range sel.Exclusions {
			if ex.matches(key, m.caseSensitive) {
				return true
			}
		}
		if names {
			value = key
		}
		out = append(out, MatchData{Variable: as, Key: key, Value: value})
		return true
	})
	if names {
		out = dedupeNames(out)
	}
	return out
}

// dedupeNames collapses the repeated keys that multi-valued entries produce.
func dedupeNames(in []MatchData) []MatchData {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, md := range in {
		id := md.Variable.String() + "\x00" + md.Key
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, md)
	}
	return out
}

func (s *Store) combinedSize() int {
	total := 0
	for _, n := range []Name{ArgsGet, ArgsPost} {
		s.maps[n].Each(func(key, value string) bool {
			total += len(key) + len(value)
			return true
		})
	}
	return total
}
