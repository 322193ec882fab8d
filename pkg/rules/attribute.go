package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// evaluateAttribute compares a context attribute against the rule value.
// A missing attribute never matches, except for not_equals/not_contains/
// not_in which are satisfied vacuously.
func (e *Engine) evaluateAttribute(rule Rule, ctx Context) bool {
	raw, ok := ctx.Attribute(rule.Attribute)
	if !ok {
		switch rule.Operator {
		case OpNotEquals, OpNotContains, OpNotIn:
			return true
		}
		return false
	}

	switch rule.Operator {
	case OpEquals:
		return stringify(raw) == rule.Value
	case OpNotEquals:
		return stringify(raw) != rule.Value
	case OpContains:
		return attributeContains(raw, rule.Value)
	case OpNotContains:
		return !attributeContains(raw, rule.Value)
	case OpStartsWith:
		return strings.HasPrefix(stringify(raw), rule.Value)
	case OpEndsWith:
		return strings.HasSuffix(stringify(raw), rule.Value)
	case OpRegex:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			e.log.Warn("invalid regex in targeting rule",
				"attribute", rule.Attribute, "pattern", rule.Value, "error", err)
			return false
		}
		return re.MatchString(stringify(raw))
	case OpIn:
		return slices.Contains(ruleValues(rule), stringify(raw))
	case OpNotIn:
		return !slices.Contains(ruleValues(rule), stringify(raw))
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		return compareNumeric(rule.Operator, raw, rule.Value)
	default:
		e.log.Warn("unknown attribute operator", "operator", rule.Operator)
		return false
	}
}

// ruleValues returns the membership list for in/not_in operators, falling
// back to a comma-separated Value for compactly stored rules.
func ruleValues(rule Rule) []string {
	if len(rule.Values) > 0 {
		return rule.Values
	}
	if rule.Value == "" {
		return nil
	}
	parts := strings.Split(rule.Value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// attributeContains handles both membership on slice attributes (userRoles)
// and substring match on scalar attributes.
func attributeContains(raw any, value string) bool {
	switch v := raw.(type) {
	case []string:
		return slices.Contains(v, value)
	case []any:
		for _, item := range v {
			if stringify(item) == value {
				return true
			}
		}
		return false
	default:
		return strings.Contains(stringify(raw), value)
	}
}

// compareNumeric coerces both sides to float64. Non-numeric input makes the
// comparison false rather than an error.
func compareNumeric(operator string, raw any, value string) bool {
	left, ok := toFloat(raw)
	if !ok {
		return false
	}
	right, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return false
	}

	switch operator {
	case OpGreaterThan:
		return left > right
	case OpLessThan:
		return left < right
	case OpGreaterEqual:
		return left >= right
	case OpLessEqual:
		return left <= right
	}
	return false
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		f, err := strconv.ParseFloat(strings.TrimSpace(stringify(raw)), 64)
		return f, err == nil
	}
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", raw)
	}
}
