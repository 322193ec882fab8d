package flags

import (
	"context"
	"time"
)

// Resync reloads the full active flag set from the store and atomically
// replaces the in-memory snapshot. It is the recovery path after a
// propagation gap: a successful resync converges the instance regardless
// of any change messages it missed.
func (e *Evaluator) Resync(ctx context.Context) error {
	defs, err := e.store.LoadActiveFlags(ctx)
	if err != nil {
		e.stats.storeErrors.Add(1)
		return err
	}

	flags := make(map[string]FlagDefinition, len(defs))
	for _, def := range defs {
		if def.Archived {
			continue
		}
		flags[def.Key] = def
	}

	e.stateMu.Lock()
	e.state.Store(&snapshot{flags: flags})
	e.stateMu.Unlock()

	e.cache.ClearLocal()
	e.ovCache.ClearLocal()

	e.log.Info("flag set resynced", "flags", len(flags))
	return nil
}

// StartResync runs Resync on the configured interval until ctx is
// cancelled. Failures are logged and retried on the next tick; stale data
// keeps serving in the meantime.
func (e *Evaluator) StartResync(ctx context.Context) {
	interval := e.cfg.ResyncInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.Resync(ctx); err != nil {
					e.log.Error("periodic flag resync failed", "error", err)
				}
			}
		}
	}()
}

// InvalidateFlag synchronously purges one flag from the snapshot and from
// both cache tiers, including its cached override lookups. A service
// wired to a same-process evaluator calls this before its write returns,
// so the next evaluation re-reads the store instead of serving the
// pre-write definition.
func (e *Evaluator) InvalidateFlag(ctx context.Context, key string) {
	e.cache.InvalidateByPrefix(ctx, flagCacheKey(key))
	e.ovCache.InvalidateByPrefix(ctx, flagCacheKey(key))
	e.updateState(func(flags map[string]FlagDefinition) {
		delete(flags, key)
	})
}

// updateState applies a copy-on-write mutation to the snapshot. Writers
// (the propagation listener, the resync loop, and synchronous write-path
// invalidation) serialize on stateMu; readers stay lock-free on the
// atomic pointer.
func (e *Evaluator) updateState(mutate func(flags map[string]FlagDefinition)) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	current := e.state.Load()
	next := make(map[string]FlagDefinition, len(current.flags)+1)
	for k, v := range current.flags {
		next[k] = v
	}
	mutate(next)
	e.state.Store(&snapshot{flags: next})
}
