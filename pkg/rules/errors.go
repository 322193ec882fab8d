package rules

import "errors"

var (
	// ErrPredicateExists indicates a custom predicate name is already registered.
	ErrPredicateExists = errors.New("custom predicate already registered")

	// ErrEmptyPredicateName indicates an attempt to register a predicate without a name.
	ErrEmptyPredicateName = errors.New("custom predicate name cannot be empty")

	// ErrNilPredicate indicates an attempt to register a nil predicate function.
	ErrNilPredicate = errors.New("custom predicate function cannot be nil")
)
