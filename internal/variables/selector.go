package variables

import (
	"fmt"
	"regexp"
	"strings"
)

// Selector resolves a rule target against the store.
type Selector struct {
	Variable Name
	// Key restricts a collection to one key; empty selects the whole collection.
	Key string
	// KeyRx restricts a collection to keys matching the expression.
	KeyRx *regexp.Regexp
	// Count turns the selector into the number of values it would yield.
	Count      bool
	Exclusions []Exclusion
}

// Exclusion removes a key (or keys matching KeyRx) from a collection-wide selector.
type Exclusion struct {
	Key   string
	KeyRx *regexp.Regexp
}

func (s Selector) String() string {
	var b strings.Builder
	if s.Count {
		b.WriteByte('&')
	}
	b.WriteString(s.Variable.String())
	switch {
	case s.KeyRx != nil:
		b.WriteString(":/")
		b.WriteString(s.KeyRx.String())
		b.WriteByte('/')
	case s.Key != "":
		b.WriteByte(':')
		b.WriteString(s.Key)
	}
	return b.String()
}

func (e Exclusion) matches(key string, caseSensitive bool) bool {
	if e.KeyRx != nil {
		return e.KeyRx.MatchString(key)
	}
	if caseSensitive {
		return e.Key == key
	}
	return strings.EqualFold(e.Key, key)
}

// ParseTargets parses target expressions such as "ARGS", "&ARGS",
// "REQUEST_HEADERS:User-Agent", "ARGS:/^id_/" and "!ARGS:token". Exclusions
// attach to every earlier selector of the same variable.
func ParseTargets(raw []string) ([]Selector, error) {
	var selectors []Selector
	for _, item := range raw {
		for _, part := range strings.Split(item, "|") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if strings.HasPrefix(part, "!") {
				name, key, rx, err := parseTarget(part[1:])
				if err != nil {
					return nil, err
				}
				if key == "" && rx == nil {
					return nil, fmt.Errorf("exclusion %q needs a key", part)
				}
				attached := false
				for i := range selectors {
					if selectors[i].Variable == name {
						selectors[i].Exclusions = append(selectors[i].Exclusions, Exclusion{Key: key, KeyRx: rx})
						attached = true
					}
				}
				if !attached {
					return nil, fmt.Errorf("exclusion %q has no matching target", part)
				}
				continue
			}

			count := false
			if strings.HasPrefix(part, "&") {
				count = true
				part = part[1:]
			}
			name, key, rx, err := parseTarget(part)
			if err != nil {
				return nil, err
			}
			selectors = append(selectors, Selector{Variable: name, Key: key, KeyRx: rx, Count: count})
		}
	}
	return selectors, nil
}

func parseTarget(raw string) (Name, string, *regexp.Regexp, error) {
	varName, key, hasKey := strings.Cut(raw, ":")
	name, ok := ParseName(varName)
	if !ok {
		return Unknown, "", nil, fmt.Errorf("unknown variable %q", varName)
	}
	if !hasKey {
		return name, "", nil, nil
	}
	if !name.IsCollection() {
		return Unknown, "", nil, fmt.Errorf("variable %s does not take a key", name)
	}
	if len(key) >= 2 && strings.HasPrefix(key, "/") && strings.HasSuffix(key, "/") {
		expr := key[1 : len(key)-1]
		if !descriptors[name].caseSensitive {
			expr = "(?i)" + expr
		}
		rx, err := regexp.Compile(expr)
		if err != nil {
			return Unknown, "", nil, fmt.Errorf("target %s key regex: %w", name, err)
		}
		return name, "", rx, nil
	}
	if strings.HasPrefix(key, "'") && strings.HasSuffix(key, "'") && len(key) >= 2 {
		key = key[1 : len(key)-1]
	}
	return name, key, nil, nil
}
