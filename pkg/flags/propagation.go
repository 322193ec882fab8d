package flags

import (
	"context"
	"errors"

	"github.com/talenthub/flagkit/pkg/broadcast"
)

// ListenForUpdates subscribes to flag change messages and applies each to
// the local snapshot and caches. Delivery is at-least-once and unordered;
// applyChange is written so that replays and reordering still converge, and
// the periodic resync covers anything missed entirely.
func (e *Evaluator) ListenForUpdates(ctx context.Context, b broadcast.Broadcaster[ChangeMessage]) {
	sub := b.Subscribe(ctx)

	go func() {
		for msg := range sub.Receive(ctx) {
			e.applyChange(ctx, msg.Data)
		}
	}()
}

// applyChange reconciles one change message. Every action re-derives state
// from the store rather than trusting message payloads, so a stale or
// replayed message converges to the same outcome as a fresh one.
func (e *Evaluator) applyChange(ctx context.Context, msg ChangeMessage) {
	if msg.Action == ActionReloadAll {
		if err := e.Resync(ctx); err != nil {
			e.log.Error("reload-all resync failed", "error", err)
		}
		return
	}

	if msg.FlagKey == "" {
		e.log.Warn("change message missing flag key, ignored", "action", string(msg.Action))
		return
	}

	e.cache.InvalidateByPrefix(ctx, flagCacheKey(msg.FlagKey))
	e.ovCache.InvalidateByPrefix(ctx, flagCacheKey(msg.FlagKey))

	switch msg.Action {
	case ActionDeleted, ActionDisabled, ActionEmergency:
		e.updateState(func(flags map[string]FlagDefinition) {
			delete(flags, msg.FlagKey)
		})
		e.log.Info("flag removed from local state",
			"flag_key", msg.FlagKey, "action", string(msg.Action), "actor_id", msg.ActorID)

	case ActionCreated, ActionUpdated:
		e.refreshFlag(ctx, msg)

	default:
		e.log.Warn("unknown change action, cache invalidated only",
			"flag_key", msg.FlagKey, "action", string(msg.Action))
	}
}

// refreshFlag fetches the current definition and installs it in the
// snapshot. On fetch failure the key is dropped from the snapshot instead,
// which forces the next evaluation through the cache-and-store path.
func (e *Evaluator) refreshFlag(ctx context.Context, msg ChangeMessage) {
	storeCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	def, err := e.store.GetFlag(storeCtx, msg.FlagKey)
	if err != nil {
		e.updateState(func(flags map[string]FlagDefinition) {
			delete(flags, msg.FlagKey)
		})
		if !errors.Is(err, ErrFlagNotFound) {
			e.stats.storeErrors.Add(1)
			e.log.Warn("flag refresh failed after change message",
				"flag_key", msg.FlagKey, "error", err)
		}
		return
	}

	if def.Archived {
		e.updateState(func(flags map[string]FlagDefinition) {
			delete(flags, msg.FlagKey)
		})
		return
	}

	e.updateState(func(flags map[string]FlagDefinition) {
		flags[msg.FlagKey] = *def
	})
	e.log.Info("flag refreshed from change message",
		"flag_key", msg.FlagKey, "action", string(msg.Action), "version", def.Version)
}
