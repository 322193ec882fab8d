package rules

// Type identifies the kind of predicate a rule expresses.
type Type string

const (
	TypeUserAttribute Type = "user_attribute"
	TypeDateTime      Type = "datetime"
	TypeGeography     Type = "geography"
	TypeDevice        Type = "device"
	TypeVersion       Type = "version"
	TypePercentage    Type = "percentage"
	TypeCustom        Type = "custom"
)

// Combinator controls how a rule combines with the rules before it in a list.
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
	CombinatorNot Combinator = "not"
)

// Operators shared across rule types. Each rule type accepts a subset.
const (
	OpEquals       = "equals"
	OpNotEquals    = "not_equals"
	OpContains     = "contains"
	OpNotContains  = "not_contains"
	OpStartsWith   = "starts_with"
	OpEndsWith     = "ends_with"
	OpRegex        = "regex"
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpGreaterThan  = "greater_than"
	OpLessThan     = "less_than"
	OpGreaterEqual = "greater_equal"
	OpLessEqual    = "less_equal"

	OpBefore    = "before"
	OpAfter     = "after"
	OpBetween   = "between"
	OpDayOfWeek = "day_of_week"
	OpHourOfDay = "hour_of_day"

	OpMobile  = "mobile"
	OpDesktop = "desktop"
	OpTablet  = "tablet"

	OpPercentageIn = "percentage_in"
	OpInBucket     = "in_bucket"
)

// Rule is a single targeting predicate. Which fields are meaningful depends
// on Type: user_attribute rules use Attribute/Operator/Value(s), percentage
// rules use Percentage/Seed/Buckets, custom rules name a registered
// predicate, and so on.
type Rule struct {
	Type       Type       `json:"type" yaml:"type"`
	Operator   string     `json:"operator,omitempty" yaml:"operator,omitempty"`
	Attribute  string     `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Value      string     `json:"value,omitempty" yaml:"value,omitempty"`
	Values     []string   `json:"values,omitempty" yaml:"values,omitempty"`
	Combinator Combinator `json:"combinator,omitempty" yaml:"combinator,omitempty"`

	// Percentage rollout fields.
	Percentage int           `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Seed       string        `json:"seed,omitempty" yaml:"seed,omitempty"`
	Buckets    []NamedBucket `json:"buckets,omitempty" yaml:"buckets,omitempty"`

	// Predicate names a registered custom predicate for custom rules.
	// It is a lookup key, never executable code.
	Predicate string `json:"predicate,omitempty" yaml:"predicate,omitempty"`
}

// NamedBucket assigns a share of the bucket space to a named cohort.
// Shares are consumed in list order: [{a 30} {b 70}] puts buckets 1-30 in
// "a" and 31-100 in "b".
type NamedBucket struct {
	Name       string `json:"name" yaml:"name"`
	Percentage int    `json:"percentage" yaml:"percentage"`
}

// Context is the ephemeral evaluation input. It is assembled by the caller
// per request and never persisted. Geo fields are pre-resolved by the caller;
// rule evaluation performs no I/O.
type Context struct {
	UserID      string
	GroupID     string
	SessionID   string
	UserRoles   []string
	Environment string
	IPAddress   string
	UserAgent   string
	Country     string
	Region      string
	City        string
	Attributes  map[string]any
}

// Attribute resolves a named attribute, checking well-known fields before
// the free-form Attributes map.
func (c Context) Attribute(name string) (any, bool) {
	switch name {
	case "userId":
		return c.UserID, c.UserID != ""
	case "groupId":
		return c.GroupID, c.GroupID != ""
	case "sessionId":
		return c.SessionID, c.SessionID != ""
	case "userRoles":
		return c.UserRoles, len(c.UserRoles) > 0
	case "environment":
		return c.Environment, c.Environment != ""
	case "ipAddress":
		return c.IPAddress, c.IPAddress != ""
	case "userAgent":
		return c.UserAgent, c.UserAgent != ""
	case "country":
		return c.Country, c.Country != ""
	case "region":
		return c.Region, c.Region != ""
	case "city":
		return c.City, c.City != ""
	}
	v, ok := c.Attributes[name]
	return v, ok
}

// RolloutIdentifier returns the identity used for consistent bucketing:
// the user ID when known, the session ID for anonymous visitors, and a
// shared constant when neither is present.
func (c Context) RolloutIdentifier() string {
	if c.UserID != "" {
		return c.UserID
	}
	if c.SessionID != "" {
		return c.SessionID
	}
	return "anonymous"
}
