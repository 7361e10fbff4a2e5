package waf

import (
	"github.com/veilwaf/veil/internal/variables"
)

// Lookup resolves macro references such as tx.score or REQUEST_HEADERS.host.
func (tx *Transaction) Lookup(variable, key string) (string, bool) {
	name, ok := variables.ParseName(variable)
	if !ok {
		return "", false
	}
	return tx.store.Lookup(name, key)
}

// Capturing is true while a rule with the capture flag is being evaluated.
func (tx *Transaction) Capturing() bool {
	return tx.capturing
}
