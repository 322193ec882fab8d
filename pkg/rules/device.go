package rules

import (
	"strings"

	"github.com/talenthub/flagkit/pkg/useragent"
)

// evaluateDevice matches on device type or platform parsed from the raw
// user-agent string. The convenience operators mobile/desktop/tablet need
// no attribute or value at all.
func evaluateDevice(rule Rule, ctx Context) bool {
	ua := useragent.Parse(ctx.UserAgent)

	switch rule.Operator {
	case OpMobile:
		return ua.IsMobile()
	case OpDesktop:
		return ua.IsDesktop()
	case OpTablet:
		return ua.IsTablet()
	case OpContains:
		return ctx.UserAgent != "" &&
			strings.Contains(strings.ToLower(ctx.UserAgent), strings.ToLower(rule.Value))
	case OpEquals:
		switch rule.Attribute {
		case "platform":
			return strings.EqualFold(ua.Platform(), rule.Value)
		default:
			return strings.EqualFold(ua.DeviceType(), rule.Value)
		}
	default:
		return false
	}
}

// evaluateGeography is an exact match on geo fields already resolved into
// the context. IP-to-geo resolution happens upstream, never here.
func evaluateGeography(rule Rule, ctx Context) bool {
	var actual string
	switch rule.Attribute {
	case "country":
		actual = ctx.Country
	case "region":
		actual = ctx.Region
	case "city":
		actual = ctx.City
	default:
		return false
	}
	if actual == "" {
		return false
	}

	switch rule.Operator {
	case OpEquals, "":
		return strings.EqualFold(actual, rule.Value)
	case OpNotEquals:
		return !strings.EqualFold(actual, rule.Value)
	case OpIn:
		for _, v := range ruleValues(rule) {
			if strings.EqualFold(actual, v) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, v := range ruleValues(rule) {
			if strings.EqualFold(actual, v) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
