package operators

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout reports an evaluation aborted by the match budget.
var ErrTimeout = errors.New("evaluation aborted")

// DefaultMatchTimeout bounds a single regex evaluation.
const DefaultMatchTimeout = 50 * time.Millisecond

// maxCaptures matches the TX:0..9 capture slots.
const maxCaptures = 10

// State is the per-transaction view an operator may consult.
type State interface {
	// Lookup resolves a macro reference such as tx.score or REQUEST_HEADERS.host.
	Lookup(variable, key string) (string, bool)
	// Capturing reports whether captures should be collected.
	Capturing() bool
}

type Result struct {
	Matched  bool
	Captures []string
	Err      error
}

// Operator evaluates one value. Implementations hold no per-call state and
// are shared by every transaction.
type Operator interface {
	Evaluate(state State, value string) Result
}

type Options struct {
	Arguments string
	// Data carries pre-loaded entries for the *FromFile operators.
	Data         []string
	MatchTimeout time.Duration
}

type Factory func(Options) (Operator, error)

var registry = map[string]Factory{}

// Register adds an operator factory. Init-time only.
func Register(name string, factory Factory) {
	key := strings.ToLower(name)
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("operator %q registered twice", name))
	}
	registry[key] = factory
}

func Get(name string) (Factory, bool) {
	f, ok := registry[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))]
	return f, ok
}

// New compiles the named operator.
func New(name string, opts Options) (Operator, error) {
	factory, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", name)
	}
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = DefaultMatchTimeout
	}
	op, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("operator %s: %w", name, err)
	}
	return op, nil
}

func capturing(state State) bool {
	return state != nil && state.Capturing()
}

type constant bool

func (c constant) Evaluate(State, string) Result {
	return Result{Matched: bool(c)}
}

func init() {
	Register("unconditionalMatch", func(Options) (Operator, error) { return constant(true), nil })
	Register("noMatch", func(Options) (Operator, error) { return constant(false), nil })
}
