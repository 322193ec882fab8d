package bucketing_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talenthub/flagkit/pkg/bucketing"
)

func TestBucketRange(t *testing.T) {
	t.Parallel()

	for i := range 1000 {
		b := bucketing.Bucket(fmt.Sprintf("user-%d", i), "dark_mode")
		require.GreaterOrEqual(t, b, 1)
		require.LessOrEqual(t, b, 100)
	}
}

func TestBucketStability(t *testing.T) {
	t.Parallel()

	first := bucketing.Bucket("user-42", "beta_feature")
	for range 100 {
		assert.Equal(t, first, bucketing.Bucket("user-42", "beta_feature"))
	}
}

func TestBucketSeedReshuffles(t *testing.T) {
	t.Parallel()

	// Different seeds must produce a different assignment for at least some
	// identifiers, otherwise re-rolling a rollout would be impossible.
	moved := 0
	for i := range 1000 {
		id := fmt.Sprintf("user-%d", i)
		if bucketing.Bucket(id, "seed-a") != bucketing.Bucket(id, "seed-b") {
			moved++
		}
	}
	assert.Greater(t, moved, 900, "changing the seed should move ~99%% of identifiers")
}

func TestInRolloutBounds(t *testing.T) {
	t.Parallel()

	assert.False(t, bucketing.InRollout("anyone", "flag", 0))
	assert.False(t, bucketing.InRollout("anyone", "flag", -5))
	assert.True(t, bucketing.InRollout("anyone", "flag", 100))
	assert.True(t, bucketing.InRollout("anyone", "flag", 150))
}

func TestDistributionUniformity(t *testing.T) {
	t.Parallel()

	const n = 10000
	for _, pct := range []int{10, 50, 90} {
		t.Run(fmt.Sprintf("percentage_%d", pct), func(t *testing.T) {
			t.Parallel()

			included := 0
			for i := range n {
				if bucketing.InRollout(fmt.Sprintf("id-%d", i), "uniformity", pct) {
					included++
				}
			}
			got := float64(included) / n * 100
			assert.InDelta(t, float64(pct), got, 3.0,
				"fraction of identifiers in [1,%d] should be close to %d%%", pct, pct)
		})
	}
}
