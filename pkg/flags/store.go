package flags

import "context"

// Store is the persistence contract consumed by the evaluator and the
// administrative service. Implementations must be safe for concurrent use.
//
// Evaluation-path callers wrap every Store call in the circuit breaker and
// fall back to the safe default on failure; the store itself should simply
// return errors.
type Store interface {
	// LoadActiveFlags returns every non-archived flag. Called at startup
	// and on periodic full resync.
	LoadActiveFlags(ctx context.Context) ([]FlagDefinition, error)

	// GetFlag returns a flag by key, or ErrFlagNotFound.
	GetFlag(ctx context.Context, key string) (*FlagDefinition, error)

	// SaveFlag upserts a flag definition.
	SaveFlag(ctx context.Context, def FlagDefinition) error

	// ArchiveFlag soft-deletes a flag. Archived flags are excluded from
	// LoadActiveFlags but remain resolvable for history.
	ArchiveFlag(ctx context.Context, key string) error

	// RecordHistory appends an audit entry. A failure here must surface to
	// the caller of the mutation; history is never dropped silently.
	RecordHistory(ctx context.Context, entry HistoryEntry) error

	// ListHistory returns up to limit history entries for a flag, newest
	// first.
	ListHistory(ctx context.Context, flagKey string, limit int) ([]HistoryEntry, error)

	// GetOverride returns the override for (flagKey, subjectType,
	// subjectID), or (nil, nil) when no override exists.
	GetOverride(ctx context.Context, flagKey string, subjectType SubjectType, subjectID string) (*Override, error)

	// SetOverride upserts an override.
	SetOverride(ctx context.Context, o Override) error

	// RemoveOverride deletes an override. Removing a non-existent override
	// is not an error.
	RemoveOverride(ctx context.Context, flagKey string, subjectType SubjectType, subjectID string) error

	// Close releases any resources held by the store.
	Close() error
}
