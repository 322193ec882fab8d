package flags_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthub/flagkit/pkg/flags"
)

func TestMemoryStoreFlags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := flags.NewMemoryStore()

	_, err := store.GetFlag(ctx, "missing")
	require.ErrorIs(t, err, flags.ErrFlagNotFound)

	def := boolFlag("stored", true)
	require.NoError(t, store.SaveFlag(ctx, def))

	got, err := store.GetFlag(ctx, "stored")
	require.NoError(t, err)
	assert.Equal(t, "stored", got.Key)

	// The returned definition is a copy; mutating it must not leak back.
	got.Enabled = false
	got.Prerequisites = append(got.Prerequisites, "sneaky")

	fresh, err := store.GetFlag(ctx, "stored")
	require.NoError(t, err)
	assert.True(t, fresh.Enabled)
	assert.Empty(t, fresh.Prerequisites)
}

func TestMemoryStoreArchiveExcludesFromLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := flags.NewMemoryStore()
	require.NoError(t, store.SaveFlag(ctx, boolFlag("keep", true)))
	require.NoError(t, store.SaveFlag(ctx, boolFlag("drop", true)))

	require.NoError(t, store.ArchiveFlag(ctx, "drop"))

	active, err := store.LoadActiveFlags(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "keep", active[0].Key)

	// The archived flag is still fetchable for audit and history.
	archived, err := store.GetFlag(ctx, "drop")
	require.NoError(t, err)
	assert.True(t, archived.Archived)

	require.ErrorIs(t, store.ArchiveFlag(ctx, "never-there"), flags.ErrFlagNotFound)
}

func TestMemoryStoreHistoryOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := flags.NewMemoryStore()
	base := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)

	for i, ct := range []flags.ChangeType{flags.ChangeCreated, flags.ChangeUpdated, flags.ChangeUpdated} {
		require.NoError(t, store.RecordHistory(ctx, flags.HistoryEntry{
			ID:         string(rune('a' + i)),
			FlagKey:    "audited",
			ChangeType: ct,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := store.ListHistory(ctx, "audited", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].ID)
	assert.Equal(t, "a", entries[2].ID)

	limited, err := store.ListHistory(ctx, "audited", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "c", limited[0].ID)
}

func TestMemoryStoreOverrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := flags.NewMemoryStore()

	got, err := store.GetOverride(ctx, "any", flags.SubjectUser, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SetOverride(ctx, flags.Override{
		FlagKey:     "any",
		SubjectType: flags.SubjectUser,
		SubjectID:   "u1",
		Enabled:     true,
	}))

	got, err = store.GetOverride(ctx, "any", flags.SubjectUser, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Enabled)

	// User and group namespaces are distinct.
	got, err = store.GetOverride(ctx, "any", flags.SubjectGroup, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.RemoveOverride(ctx, "any", flags.SubjectUser, "u1"))
	got, err = store.GetOverride(ctx, "any", flags.SubjectUser, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Removing twice is a no-op.
	require.NoError(t, store.RemoveOverride(ctx, "any", flags.SubjectUser, "u1"))
}
