package operators

import "github.com/corazawaf/libinjection-go"

func init() {
	Register("detectSQLi", func(Options) (Operator, error) { return detectSQLi{}, nil })
	Register("detectXSS", func(Options) (Operator, error) { return detectXSS{}, nil })
}

type detectSQLi struct{}

// Evaluate reports the libinjection fingerprint as the capture.
func (detectSQLi) Evaluate(state State, value string) Result {
	found, fingerprint := libinjection.IsSQLi(value)
	if !found {
		return Result{}
	}
	res := Result{Matched: true}
	if capturing(state) {
		res.Captures = []string{fingerprint}
	}
	return res
}

type detectXSS struct{}

func (detectXSS) Evaluate(_ State, value string) Result {
	return Result{Matched: libinjection.IsXSS(value)}
}
