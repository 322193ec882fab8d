package rules

import "github.com/talenthub/flagkit/pkg/bucketing"

// evaluatePercentage gates the context through consistent bucketing.
// The identity is userId, then sessionId, then a shared anonymous constant,
// so anonymous traffic still sees a stable (if collective) assignment.
//
// percentage_in tests a simple cutoff; in_bucket assigns the identity to a
// named cohort and matches when it lands in the cohort named by Value.
func evaluatePercentage(rule Rule, ctx Context) bool {
	identifier := ctx.RolloutIdentifier()
	seed := rule.Seed

	switch rule.Operator {
	case OpInBucket:
		return assignBucket(identifier, seed, rule.Buckets) == rule.Value
	case OpPercentageIn, "":
		return bucketing.InRollout(identifier, seed, rule.Percentage)
	default:
		return false
	}
}

// assignBucket resolves the named cohort the identifier falls into.
// Cohort shares are cumulative in list order; an identifier past the last
// share belongs to no cohort.
func assignBucket(identifier, seed string, buckets []NamedBucket) string {
	bucket := bucketing.Bucket(identifier, seed)
	upper := 0
	for _, b := range buckets {
		upper += b.Percentage
		if bucket <= upper {
			return b.Name
		}
	}
	return ""
}
