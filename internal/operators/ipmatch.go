package operators

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

func init() {
	Register("ipMatch", func(opts Options) (Operator, error) {
		return newIPMatch(strings.FieldsFunc(opts.Arguments, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		}))
	})
	fromFile := func(opts Options) (Operator, error) {
		return newIPMatch(opts.Data)
	}
	Register("ipMatchFromFile", fromFile)
	Register("ipMatchF", fromFile)
}

type ipMatch struct {
	prefixes []netip.Prefix
}

func newIPMatch(entries []string) (Operator, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid network %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil, errors.New("at least one address is required")
	}
	return &ipMatch{prefixes: prefixes}, nil
}

func (o *ipMatch) Evaluate(state State, value string) Result {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return Result{}
	}
	addr = addr.Unmap()
	for _, prefix := range o.prefixes {
		if prefix.Contains(addr) {
			res := Result{Matched: true}
			if capturing(state) {
				res.Captures = []string{addr.String()}
			}
			return res
		}
	}
	return Result{}
}
