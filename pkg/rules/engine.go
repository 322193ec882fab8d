package rules

import (
	"log/slog"
	"sync"
	"time"
)

// Predicate is a compile-time registered custom rule evaluator. Predicates
// are looked up by the name stored on the rule; rule data is never
// interpreted as code.
type Predicate func(ctx Context, rule Rule) bool

// Engine evaluates targeting rules against an evaluation context.
// All methods are safe for concurrent use.
type Engine struct {
	log        *slog.Logger
	now        func() time.Time
	mu         sync.RWMutex
	predicates map[string]Predicate
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for rule evaluation warnings.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the wall-clock source used by datetime rules.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPredicate registers a named custom predicate at construction time.
func WithPredicate(name string, fn Predicate) Option {
	return func(e *Engine) {
		if name != "" && fn != nil {
			e.predicates[name] = fn
		}
	}
}

// NewEngine creates a rule evaluation engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log:        slog.Default(),
		now:        time.Now,
		predicates: make(map[string]Predicate),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterPredicate adds a named custom predicate. Registration is expected
// at startup; re-registering a name is rejected so deploy-time wiring
// mistakes surface early.
func (e *Engine) RegisterPredicate(name string, fn Predicate) error {
	if name == "" {
		return ErrEmptyPredicateName
	}
	if fn == nil {
		return ErrNilPredicate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.predicates[name]; exists {
		return ErrPredicateExists
	}
	e.predicates[name] = fn
	return nil
}

// Evaluate applies a single rule to the context. It never panics outward:
// a malformed rule or a panicking custom predicate evaluates to false and
// is logged at warning level, leaving the rest of the flag unaffected.
func (e *Engine) Evaluate(rule Rule, ctx Context) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("rule evaluation panicked, treating rule as non-matching",
				"rule_type", string(rule.Type),
				"operator", rule.Operator,
				"panic", r,
			)
			result = false
		}
	}()

	switch rule.Type {
	case TypeUserAttribute:
		return e.evaluateAttribute(rule, ctx)
	case TypeDateTime:
		return e.evaluateDateTime(rule)
	case TypeGeography:
		return evaluateGeography(rule, ctx)
	case TypeDevice:
		return evaluateDevice(rule, ctx)
	case TypeVersion:
		return e.evaluateVersion(rule, ctx)
	case TypePercentage:
		return evaluatePercentage(rule, ctx)
	case TypeCustom:
		return e.evaluateCustom(rule, ctx)
	default:
		e.log.Warn("unknown rule type, treating rule as non-matching",
			"rule_type", string(rule.Type))
		return false
	}
}

// EvaluateAll walks the rule list in order with short-circuit semantics.
// An empty list matches everyone. For each rule:
//
//   - combinator "and": a false result fails the whole list immediately
//   - combinator "or": a true result passes the whole list immediately
//   - combinator "not": a true result fails the whole list immediately
//   - no combinator: the first true result passes the list (first match wins)
//
// A walk that finishes without an early return does not match. Ordering is
// the tie-break mechanism; there is no boolean expression tree.
func (e *Engine) EvaluateAll(list []Rule, ctx Context) bool {
	if len(list) == 0 {
		return true
	}

	for _, rule := range list {
		result := e.Evaluate(rule, ctx)

		switch rule.Combinator {
		case CombinatorAnd:
			if !result {
				return false
			}
		case CombinatorOr:
			if result {
				return true
			}
		case CombinatorNot:
			if result {
				return false
			}
		default:
			if result {
				return true
			}
		}
	}
	return false
}

func (e *Engine) evaluateCustom(rule Rule, ctx Context) bool {
	e.mu.RLock()
	fn, ok := e.predicates[rule.Predicate]
	e.mu.RUnlock()

	if !ok {
		e.log.Warn("custom predicate not registered, treating rule as non-matching",
			"predicate", rule.Predicate)
		return false
	}
	return fn(ctx, rule)
}
