package flags_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthub/flagkit/pkg/broadcast"
	"github.com/talenthub/flagkit/pkg/flags"
)

func TestListenForUpdates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := flags.NewMemoryStore()
	seedFlag(t, store, boolFlag("live", true))

	bus := broadcast.NewMemoryBroadcaster[flags.ChangeMessage](16)
	defer bus.Close()

	e := flags.NewEvaluator(store)
	require.NoError(t, e.Resync(ctx))
	e.ListenForUpdates(ctx, bus)

	t.Run("update refreshes the definition", func(t *testing.T) {
		updated := boolFlag("live", true)
		updated.RolloutPercentage = 0
		updated.Version = 2
		require.NoError(t, store.SaveFlag(ctx, updated))

		require.NoError(t, bus.Broadcast(ctx, broadcast.Message[flags.ChangeMessage]{
			Data: flags.ChangeMessage{FlagKey: "live", Action: flags.ActionUpdated},
		}))

		assert.Eventually(t, func() bool {
			got := e.Evaluate(ctx, "live", flags.EvalContext{UserID: "u1"})
			return got.Reason == flags.ReasonRolloutExcluded
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("delete removes the flag", func(t *testing.T) {
		require.NoError(t, store.ArchiveFlag(ctx, "live"))

		require.NoError(t, bus.Broadcast(ctx, broadcast.Message[flags.ChangeMessage]{
			Data: flags.ChangeMessage{FlagKey: "live", Action: flags.ActionDeleted},
		}))

		assert.Eventually(t, func() bool {
			got := e.Evaluate(ctx, "live", flags.EvalContext{UserID: "u1"})
			return got.Reason == flags.ReasonNotFound
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("create makes a new flag visible", func(t *testing.T) {
		seedFlag(t, store, boolFlag("brand-new", true))

		require.NoError(t, bus.Broadcast(ctx, broadcast.Message[flags.ChangeMessage]{
			Data: flags.ChangeMessage{FlagKey: "brand-new", Action: flags.ActionCreated},
		}))

		assert.Eventually(t, func() bool {
			got := e.Evaluate(ctx, "brand-new", flags.EvalContext{UserID: "u1"})
			return got.Enabled && got.Reason == flags.ReasonDefault
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("reload-all resyncs the whole set", func(t *testing.T) {
		seedFlag(t, store, boolFlag("bulk-a", true))
		seedFlag(t, store, boolFlag("bulk-b", true))

		require.NoError(t, bus.Broadcast(ctx, broadcast.Message[flags.ChangeMessage]{
			Data: flags.ChangeMessage{Action: flags.ActionReloadAll},
		}))

		assert.Eventually(t, func() bool {
			a := e.Evaluate(ctx, "bulk-a", flags.EvalContext{UserID: "u1"})
			b := e.Evaluate(ctx, "bulk-b", flags.EvalContext{UserID: "u1"})
			return a.Enabled && b.Enabled
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestApplyChangeConvergesOnReplay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := flags.NewMemoryStore()
	seedFlag(t, store, boolFlag("replayed", true))

	bus := broadcast.NewMemoryBroadcaster[flags.ChangeMessage](16)
	defer bus.Close()

	e := flags.NewEvaluator(store)
	e.ListenForUpdates(ctx, bus)

	// The same message delivered twice must land on the same state.
	msg := broadcast.Message[flags.ChangeMessage]{
		Data: flags.ChangeMessage{FlagKey: "replayed", Action: flags.ActionUpdated},
	}
	require.NoError(t, bus.Broadcast(ctx, msg))
	require.NoError(t, bus.Broadcast(ctx, msg))

	assert.Eventually(t, func() bool {
		got := e.Evaluate(ctx, "replayed", flags.EvalContext{UserID: "u1"})
		return got.Enabled && got.Reason == flags.ReasonDefault
	}, 2*time.Second, 10*time.Millisecond)
}
