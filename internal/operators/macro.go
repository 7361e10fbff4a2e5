package operators

import "strings"

// Macro is a string with %{variable.key} references resolved per transaction.
type Macro struct {
	raw   string
	parts []macroPart
}

type macroPart struct {
	text     string
	variable string
	key      string
	ref      bool
}

// ParseMacro splits raw into literal text and references. An unterminated
// reference is kept as literal text.
func ParseMacro(raw string) Macro {
	m := Macro{raw: raw}
	rest := raw
	for {
		start := strings.Index(rest, "%{")
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			break
		}
		if start > 0 {
			m.parts = append(m.parts, macroPart{text: rest[:start]})
		}
		ref := rest[start+2 : start+end]
		variable, key, _ := strings.Cut(ref, ".")
		m.parts = append(m.parts, macroPart{variable: strings.TrimSpace(variable), key: strings.TrimSpace(key), ref: true})
		rest = rest[start+end+1:]
	}
	if rest != "" {
		m.parts = append(m.parts, macroPart{text: rest})
	}
	return m
}

// Static reports whether the macro contains no references.
func (m Macro) Static() bool {
	for _, p := range m.parts {
		if p.ref {
			return false
		}
	}
	return true
}

func (m Macro) String() string {
	return m.raw
}

// Expand resolves references against state. Unknown references expand to
// the empty string.
func (m Macro) Expand(state State) string {
	if m.Static() || state == nil {
		return m.raw
	}
	var b strings.Builder
	for _, p := range m.parts {
		if !p.ref {
			b.WriteString(p.text)
			continue
		}
		if value, ok := state.Lookup(p.variable, p.key); ok {
			b.WriteString(value)
		}
	}
	return b.String()
}
