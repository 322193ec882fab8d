package flags_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthub/flagkit/pkg/broadcast"
	"github.com/talenthub/flagkit/pkg/flags"
)

// recordingBus captures published change messages without delivering them.
type recordingBus struct {
	mu   sync.Mutex
	msgs []flags.ChangeMessage
}

func (b *recordingBus) Subscribe(ctx context.Context) broadcast.Subscriber[flags.ChangeMessage] {
	return nil
}

func (b *recordingBus) Broadcast(ctx context.Context, msg broadcast.Message[flags.ChangeMessage]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg.Data)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) messages() []flags.ChangeMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]flags.ChangeMessage, len(b.msgs))
	copy(out, b.msgs)
	return out
}

func newServiceFixture() (*flags.Service, *flags.MemoryStore, *recordingBus) {
	store := flags.NewMemoryStore()
	bus := &recordingBus{}
	return flags.NewService(store, bus), store, bus
}

func TestServiceCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, store, bus := newServiceFixture()

	created, err := svc.Create(ctx, boolFlag("new-checkout", true), "alice", "initial release")
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.CreatedAt.IsZero())

	entries, err := store.ListHistory(ctx, "new-checkout", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, flags.ChangeCreated, entries[0].ChangeType)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Empty(t, entries[0].OldValue)
	assert.NotEmpty(t, entries[0].NewValue)

	msgs := bus.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, flags.ActionCreated, msgs[0].Action)
	assert.Equal(t, "new-checkout", msgs[0].FlagKey)
	assert.Equal(t, "alice", msgs[0].ActorID)
}

func TestServiceCreateRejectsDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, store, bus := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("dup", true), "alice", "")
	require.NoError(t, err)

	_, err = svc.Create(ctx, boolFlag("dup", true), "bob", "")
	require.ErrorIs(t, err, flags.ErrFlagExists)

	entries, err := store.ListHistory(ctx, "dup", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Len(t, bus.messages(), 1)
}

func TestServiceCreateValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, _ := newServiceFixture()

	t.Run("empty key", func(t *testing.T) {
		t.Parallel()
		_, err := svc.Create(ctx, flags.FlagDefinition{Type: flags.TypeBoolean}, "alice", "")
		assert.ErrorIs(t, err, flags.ErrInvalidFlag)
	})

	t.Run("rollout out of range", func(t *testing.T) {
		t.Parallel()
		def := boolFlag("over", true)
		def.RolloutPercentage = 150
		_, err := svc.Create(ctx, def, "alice", "")
		assert.ErrorIs(t, err, flags.ErrInvalidFlag)
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()
		def := boolFlag("weird", true)
		def.Type = "tristate"
		_, err := svc.Create(ctx, def, "alice", "")
		assert.ErrorIs(t, err, flags.ErrInvalidFlag)
	})

	t.Run("self prerequisite", func(t *testing.T) {
		t.Parallel()
		def := boolFlag("selfish", true)
		def.Prerequisites = []string{"selfish"}
		_, err := svc.Create(ctx, def, "alice", "")
		assert.ErrorIs(t, err, flags.ErrPrerequisiteCycle)
	})
}

func TestServiceUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, store, bus := newServiceFixture()

	created, err := svc.Create(ctx, boolFlag("rollout-flag", true), "alice", "")
	require.NoError(t, err)

	pct := 25
	updated, err := svc.Update(ctx, "rollout-flag", flags.FlagUpdate{
		RolloutPercentage: &pct,
		BaseVersion:       created.Version,
	}, "bob", "start gradual rollout")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, 25, updated.RolloutPercentage)

	entries, err := store.ListHistory(ctx, "rollout-flag", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, flags.ChangeUpdated, entries[0].ChangeType)
	assert.NotEmpty(t, entries[0].OldValue)

	msgs := bus.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, flags.ActionUpdated, msgs[1].Action)
}

func TestServiceUpdateStaleVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, store, bus := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("contended", true), "alice", "")
	require.NoError(t, err)

	pct := 50
	_, err = svc.Update(ctx, "contended", flags.FlagUpdate{RolloutPercentage: &pct}, "alice", "")
	require.NoError(t, err)

	// A writer still holding version 1 loses.
	stale := 10
	_, err = svc.Update(ctx, "contended", flags.FlagUpdate{
		RolloutPercentage: &stale,
		BaseVersion:       1,
	}, "bob", "")
	require.ErrorIs(t, err, flags.ErrStaleUpdate)

	current, err := store.GetFlag(ctx, "contended")
	require.NoError(t, err)
	assert.Equal(t, 50, current.RolloutPercentage)

	entries, err := store.ListHistory(ctx, "contended", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Len(t, bus.messages(), 2)
}

func TestServiceUpdateDisableBroadcastsDisable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, bus := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("toggle", true), "alice", "")
	require.NoError(t, err)

	off := false
	_, err = svc.Update(ctx, "toggle", flags.FlagUpdate{Enabled: &off}, "alice", "turning off")
	require.NoError(t, err)

	msgs := bus.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, flags.ActionDisabled, msgs[1].Action)
}

func TestServiceUpdateRejectsCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, _ := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("base-flag", true), "alice", "")
	require.NoError(t, err)

	child := boolFlag("child-flag", true)
	child.Prerequisites = []string{"base-flag"}
	_, err = svc.Create(ctx, child, "alice", "")
	require.NoError(t, err)

	// Pointing the base at its own dependent closes a cycle.
	prereqs := []string{"child-flag"}
	_, err = svc.Update(ctx, "base-flag", flags.FlagUpdate{Prerequisites: &prereqs}, "alice", "")
	require.ErrorIs(t, err, flags.ErrPrerequisiteCycle)
}

func TestServiceArchive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, store, bus := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("sunset", true), "alice", "")
	require.NoError(t, err)

	require.NoError(t, svc.Archive(ctx, "sunset", "alice", "feature retired"))

	active, err := store.LoadActiveFlags(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// History survives the archive.
	entries, err := store.ListHistory(ctx, "sunset", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, flags.ChangeArchived, entries[0].ChangeType)

	msgs := bus.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, flags.ActionDeleted, msgs[1].Action)
}

func TestServiceEmergencyDisable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, store, bus := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("incident", true), "alice", "")
	require.NoError(t, err)

	require.NoError(t, svc.EmergencyDisable(ctx, "incident", "oncall", "errors spiking"))

	current, err := store.GetFlag(ctx, "incident")
	require.NoError(t, err)
	assert.False(t, current.Enabled)
	assert.Equal(t, int64(2), current.Version)

	entries, err := store.ListHistory(ctx, "incident", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, flags.ChangeEmergencyDisabled, entries[0].ChangeType)
	assert.Equal(t, "errors spiking", entries[0].Reason)

	msgs := bus.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, flags.ActionEmergency, msgs[1].Action)
}

func TestServiceMaintenanceMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, store, _ := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("pre-maintenance", true), "alice", "")
	require.NoError(t, err)

	svc.SetMaintenance(true)
	assert.True(t, svc.InMaintenance())

	_, err = svc.Create(ctx, boolFlag("blocked", true), "alice", "")
	assert.ErrorIs(t, err, flags.ErrMaintenance)

	off := false
	_, err = svc.Update(ctx, "pre-maintenance", flags.FlagUpdate{Enabled: &off}, "alice", "")
	assert.ErrorIs(t, err, flags.ErrMaintenance)

	// Emergency disable cuts through maintenance mode.
	require.NoError(t, svc.EmergencyDisable(ctx, "pre-maintenance", "oncall", "incident"))

	current, err := store.GetFlag(ctx, "pre-maintenance")
	require.NoError(t, err)
	assert.False(t, current.Enabled)

	svc.SetMaintenance(false)
	_, err = svc.Create(ctx, boolFlag("unblocked", true), "alice", "")
	assert.NoError(t, err)
}

func TestServiceRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, bus := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("staged", true), "alice", "")
	require.NoError(t, err)

	pct50 := 50
	_, err = svc.Update(ctx, "staged", flags.FlagUpdate{RolloutPercentage: &pct50}, "alice", "")
	require.NoError(t, err)

	pct10 := 10
	_, err = svc.Update(ctx, "staged", flags.FlagUpdate{RolloutPercentage: &pct10}, "alice", "")
	require.NoError(t, err)

	// One step back restores the state before the last change.
	restored, err := svc.Rollback(ctx, "staged", 1, "alice", "bad rollout")
	require.NoError(t, err)
	assert.Equal(t, 50, restored.RolloutPercentage)
	assert.Equal(t, int64(4), restored.Version)

	msgs := bus.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, flags.ActionUpdated, msgs[3].Action)

	// From here the recorded changes, newest first, are the rollback, the
	// drop to 10 and the drop to 50. Three steps back lands on the
	// original definition.
	restored, err = svc.Rollback(ctx, "staged", 3, "alice", "back to full")
	require.NoError(t, err)
	assert.Equal(t, 100, restored.RolloutPercentage)
}

func TestServiceRollbackWithoutHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := flags.NewMemoryStore()
	svc := flags.NewService(store, nil)
	require.NoError(t, store.SaveFlag(ctx, boolFlag("unversioned", true)))

	_, err := svc.Rollback(ctx, "unversioned", 1, "alice", "")
	assert.ErrorIs(t, err, flags.ErrNoHistory)
}

func TestServiceOverrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, store, bus := newServiceFixture()

	_, err := svc.Create(ctx, boolFlag("per-user", true), "alice", "")
	require.NoError(t, err)

	o := flags.Override{
		FlagKey:     "per-user",
		SubjectType: flags.SubjectUser,
		SubjectID:   "u42",
		Enabled:     true,
	}
	require.NoError(t, svc.SetOverride(ctx, o, "alice", "support escalation"))

	stored, err := store.GetOverride(ctx, "per-user", flags.SubjectUser, "u42")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Enabled)

	require.NoError(t, svc.RemoveOverride(ctx, "per-user", flags.SubjectUser, "u42", "alice", "resolved"))

	stored, err = store.GetOverride(ctx, "per-user", flags.SubjectUser, "u42")
	require.NoError(t, err)
	assert.Nil(t, stored)

	entries, err := store.ListHistory(ctx, "per-user", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, flags.ChangeOverrideRemoved, entries[0].ChangeType)
	assert.Equal(t, flags.ChangeOverrideSet, entries[1].ChangeType)
	assert.Len(t, bus.messages(), 3)
}

func TestServiceOverrideRejectedOnSystemWide(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, _ := newServiceFixture()

	def := boolFlag("global-switch", true)
	def.SystemWide = true
	_, err := svc.Create(ctx, def, "alice", "")
	require.NoError(t, err)

	err = svc.SetOverride(ctx, flags.Override{
		FlagKey:     "global-switch",
		SubjectType: flags.SubjectUser,
		SubjectID:   "u1",
		Enabled:     false,
	}, "alice", "")
	assert.ErrorIs(t, err, flags.ErrInvalidFlag)
}

func TestServiceWritesVisibleToLocalEvaluator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := flags.NewMemoryStore()
	bus := broadcast.NewMemoryBroadcaster[flags.ChangeMessage](16)
	defer bus.Close()

	// The broadcast still goes out for remote instances; local visibility
	// must hold before any subscriber gets to run.
	e := flags.NewEvaluator(store)
	svc := flags.NewService(store, bus, flags.WithInvalidator(e))

	_, err := svc.Create(ctx, boolFlag("instant", true), "alice", "")
	require.NoError(t, err)
	require.NoError(t, e.Resync(ctx))

	// Warm both the definition cache and the override lookup cache.
	got := e.Evaluate(ctx, "instant", flags.EvalContext{UserID: "u1"})
	require.True(t, got.Enabled)

	// The write must be visible to the very next evaluation in this
	// process, without waiting on the broadcast listener.
	off := false
	_, err = svc.Update(ctx, "instant", flags.FlagUpdate{Enabled: &off}, "alice", "")
	require.NoError(t, err)

	got = e.Evaluate(ctx, "instant", flags.EvalContext{UserID: "u1"})
	assert.Equal(t, flags.ReasonDisabled, got.Reason)
	assert.False(t, got.Enabled)

	on := true
	_, err = svc.Update(ctx, "instant", flags.FlagUpdate{Enabled: &on}, "alice", "")
	require.NoError(t, err)

	got = e.Evaluate(ctx, "instant", flags.EvalContext{UserID: "u1"})
	require.True(t, got.Enabled)

	// Same guarantee for overrides, which have their own cached lookups.
	require.NoError(t, svc.SetOverride(ctx, flags.Override{
		FlagKey:     "instant",
		SubjectType: flags.SubjectUser,
		SubjectID:   "u1",
		Enabled:     false,
	}, "alice", "support escalation"))

	got = e.Evaluate(ctx, "instant", flags.EvalContext{UserID: "u1"})
	assert.Equal(t, flags.ReasonOverride, got.Reason)
	assert.False(t, got.Enabled)

	require.NoError(t, svc.RemoveOverride(ctx, "instant", flags.SubjectUser, "u1", "alice", "resolved"))

	got = e.Evaluate(ctx, "instant", flags.EvalContext{UserID: "u1"})
	assert.Equal(t, flags.ReasonDefault, got.Reason)
	assert.True(t, got.Enabled)

	// And for the emergency path.
	require.NoError(t, svc.EmergencyDisable(ctx, "instant", "oncall", "errors spiking"))

	got = e.Evaluate(ctx, "instant", flags.EvalContext{UserID: "u1"})
	assert.Equal(t, flags.ReasonDisabled, got.Reason)
	assert.False(t, got.Enabled)
}

func TestServiceArchiveVisibleToLocalEvaluator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := flags.NewMemoryStore()
	e := flags.NewEvaluator(store)

	// No broadcaster at all: visibility must not depend on propagation.
	svc := flags.NewService(store, nil, flags.WithInvalidator(e))

	_, err := svc.Create(ctx, boolFlag("short-lived", true), "alice", "")
	require.NoError(t, err)

	got := e.Evaluate(ctx, "short-lived", flags.EvalContext{UserID: "u1"})
	require.True(t, got.Enabled)

	require.NoError(t, svc.Archive(ctx, "short-lived", "alice", "retired"))

	got = e.Evaluate(ctx, "short-lived", flags.EvalContext{UserID: "u1"})
	assert.Equal(t, flags.ReasonNotFound, got.Reason)
	assert.False(t, got.Enabled)
}

func TestServiceListByCategory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc, _, _ := newServiceFixture()

	a := boolFlag("exp-a", true)
	a.Category = "experiments"
	b := boolFlag("exp-b", true)
	b.Category = "experiments"
	c := boolFlag("ops-a", true)
	c.Category = "operations"
	for _, def := range []flags.FlagDefinition{a, b, c} {
		_, err := svc.Create(ctx, def, "alice", "")
		require.NoError(t, err)
	}

	got, err := svc.ListByCategory(ctx, "experiments")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, def := range got {
		assert.Equal(t, "experiments", def.Category)
	}
}
