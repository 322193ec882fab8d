package rules

import (
	"strconv"
	"strings"
	"time"
)

// evaluateDateTime compares wall-clock now (UTC) against the rule.
// Timestamps are RFC 3339; day_of_week accepts either weekday names or
// numeric days (0=Sunday, per time.Weekday); hour_of_day accepts hours or
// "start-end" ranges in 24h clock.
func (e *Engine) evaluateDateTime(rule Rule) bool {
	now := e.now().UTC()

	switch rule.Operator {
	case OpBefore:
		ts, err := time.Parse(time.RFC3339, rule.Value)
		if err != nil {
			e.log.Warn("invalid datetime rule value", "value", rule.Value, "error", err)
			return false
		}
		return now.Before(ts)
	case OpAfter:
		ts, err := time.Parse(time.RFC3339, rule.Value)
		if err != nil {
			e.log.Warn("invalid datetime rule value", "value", rule.Value, "error", err)
			return false
		}
		return now.After(ts)
	case OpBetween:
		bounds := ruleValues(rule)
		if len(bounds) != 2 {
			e.log.Warn("between datetime rule requires exactly two bounds", "values", bounds)
			return false
		}
		start, err1 := time.Parse(time.RFC3339, bounds[0])
		end, err2 := time.Parse(time.RFC3339, bounds[1])
		if err1 != nil || err2 != nil {
			e.log.Warn("invalid datetime rule bounds", "values", bounds)
			return false
		}
		return !now.Before(start) && !now.After(end)
	case OpDayOfWeek:
		return matchDayOfWeek(ruleValues(rule), now.Weekday())
	case OpHourOfDay:
		return matchHourOfDay(ruleValues(rule), now.Hour())
	default:
		e.log.Warn("unknown datetime operator", "operator", rule.Operator)
		return false
	}
}

func matchDayOfWeek(values []string, day time.Weekday) bool {
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if n, err := strconv.Atoi(v); err == nil {
			if n == int(day) {
				return true
			}
			continue
		}
		if v == strings.ToLower(day.String()) {
			return true
		}
	}
	return false
}

func matchHourOfDay(values []string, hour int) bool {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if start, end, ok := strings.Cut(v, "-"); ok {
			s, err1 := strconv.Atoi(strings.TrimSpace(start))
			e, err2 := strconv.Atoi(strings.TrimSpace(end))
			if err1 == nil && err2 == nil && hour >= s && hour <= e {
				return true
			}
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n == hour {
			return true
		}
	}
	return false
}
