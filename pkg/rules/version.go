package rules

import (
	"strconv"
	"strings"
)

// evaluateVersion compares a dotted numeric version from the context against
// the rule value, component-wise. Missing components count as zero, so
// "1.2" == "1.2.0". Non-numeric components fail the comparison.
func (e *Engine) evaluateVersion(rule Rule, ctx Context) bool {
	attribute := rule.Attribute
	if attribute == "" {
		attribute = "appVersion"
	}
	raw, ok := ctx.Attribute(attribute)
	if !ok {
		return false
	}

	cmp, ok := compareVersions(stringify(raw), rule.Value)
	if !ok {
		e.log.Warn("non-numeric version in targeting rule",
			"attribute", attribute, "actual", stringify(raw), "expected", rule.Value)
		return false
	}

	switch rule.Operator {
	case OpEquals, "":
		return cmp == 0
	case OpNotEquals:
		return cmp != 0
	case OpGreaterThan:
		return cmp > 0
	case OpLessThan:
		return cmp < 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpLessEqual:
		return cmp <= 0
	default:
		return false
	}
}

// compareVersions returns -1, 0, or 1 like strings.Compare, and false when
// either version has a non-numeric component.
func compareVersions(a, b string) (int, bool) {
	left := strings.Split(strings.TrimPrefix(strings.TrimSpace(a), "v"), ".")
	right := strings.Split(strings.TrimPrefix(strings.TrimSpace(b), "v"), ".")

	for i := 0; i < len(left) || i < len(right); i++ {
		l, ok := versionComponent(left, i)
		if !ok {
			return 0, false
		}
		r, ok := versionComponent(right, i)
		if !ok {
			return 0, false
		}
		if l != r {
			if l < r {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, true
}

func versionComponent(parts []string, i int) (int, bool) {
	if i >= len(parts) {
		return 0, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0, false
	}
	return n, true
}
