package flags

import "errors"

var (
	// ErrFlagNotFound indicates the requested flag key is unknown.
	ErrFlagNotFound = errors.New("feature flag not found")

	// ErrFlagExists indicates a create collided with an existing key.
	ErrFlagExists = errors.New("feature flag already exists")

	// ErrInvalidFlag indicates the provided flag definition is invalid.
	ErrInvalidFlag = errors.New("invalid feature flag definition")

	// ErrPrerequisiteCycle indicates a save would introduce a cycle in the
	// prerequisite graph.
	ErrPrerequisiteCycle = errors.New("prerequisite chain contains a cycle")

	// ErrStaleUpdate indicates an update was based on an out-of-date
	// version of the flag, typically because an emergency action landed
	// in between. Emergency actions always win.
	ErrStaleUpdate = errors.New("flag was modified concurrently, update discarded")

	// ErrHistoryWrite indicates the audit history entry could not be
	// persisted. Updates fail loudly in this case: history is the audit
	// trail for flag changes.
	ErrHistoryWrite = errors.New("failed to record flag history")

	// ErrNoHistory indicates a rollback found fewer history entries than
	// the requested number of steps.
	ErrNoHistory = errors.New("not enough history to roll back")

	// ErrMaintenance rejects normal writes while maintenance mode is on.
	// Emergency disables bypass it.
	ErrMaintenance = errors.New("flag writes suspended for maintenance")
)
