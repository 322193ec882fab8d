package flags

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/talenthub/flagkit/pkg/rules"
)

// FlagType determines how a flag's default value is parsed.
type FlagType string

const (
	TypeBoolean FlagType = "boolean"
	TypeString  FlagType = "string"
	TypeNumeric FlagType = "numeric"
	TypeJSON    FlagType = "json"
)

// FlagDefinition is the versioned configuration unit for one feature flag.
// Definitions are treated as immutable snapshots by the evaluation path:
// evaluation never mutates a definition.
type FlagDefinition struct {
	Key         string   `json:"key" yaml:"key"`
	Type        FlagType `json:"type" yaml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	// Enabled is the global kill switch. When false, evaluation
	// short-circuits to disabled regardless of rules and overrides.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DefaultValue is the raw fallback value, parsed per Type.
	DefaultValue string `json:"default_value,omitempty" yaml:"default_value,omitempty"`

	// RolloutPercentage gates inclusion via consistent bucketing, 0-100.
	RolloutPercentage int `json:"rollout_percentage" yaml:"rollout_percentage"`

	// Rules is the ordered targeting-rule list, evaluated with
	// short-circuit semantics by the rules engine.
	Rules []rules.Rule `json:"rules,omitempty" yaml:"rules,omitempty"`

	// Prerequisites lists flag keys that must evaluate truthy before this
	// flag can be enabled. Chains may be transitive; cycles are a
	// configuration bug, detected at save time and failed closed at
	// evaluation time.
	Prerequisites []string `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`

	// StartDate/EndDate bound the activity window. Outside it the flag is
	// disabled with reason not_started or expired.
	StartDate *time.Time `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`

	// Administrative metadata. SystemWide flags skip per-subject overrides.
	Category        string `json:"category,omitempty" yaml:"category,omitempty"`
	SystemWide      bool   `json:"system_wide,omitempty" yaml:"system_wide,omitempty"`
	RequiresRestart bool   `json:"requires_restart,omitempty" yaml:"requires_restart,omitempty"`

	// CacheTTLSeconds overrides the default definition cache lifetime.
	CacheTTLSeconds int `json:"cache_ttl_seconds,omitempty" yaml:"cache_ttl_seconds,omitempty"`

	// Archived is the soft-delete marker. Archived flags are excluded from
	// loads but never physically deleted while history references them.
	Archived bool `json:"archived,omitempty" yaml:"archived,omitempty"`

	// Version increases monotonically on every write. It is the stamp that
	// lets an emergency action win over a stale normal update racing it.
	Version int64 `json:"version" yaml:"version,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// CacheTTL returns the per-flag cache lifetime, or zero when the default
// applies.
func (d FlagDefinition) CacheTTL() time.Duration {
	return time.Duration(d.CacheTTLSeconds) * time.Second
}

// ParsedDefault parses DefaultValue per the flag type. Malformed values
// degrade to the type's false-equivalent rather than an error: a broken
// default must not break evaluation.
func (d FlagDefinition) ParsedDefault() any {
	switch d.Type {
	case TypeString:
		return d.DefaultValue
	case TypeNumeric:
		f, err := strconv.ParseFloat(d.DefaultValue, 64)
		if err != nil {
			return float64(0)
		}
		return f
	case TypeJSON:
		if d.DefaultValue == "" {
			return nil
		}
		var v any
		if err := json.Unmarshal([]byte(d.DefaultValue), &v); err != nil {
			return nil
		}
		return v
	default: // boolean
		b, err := strconv.ParseBool(d.DefaultValue)
		if err != nil {
			return false
		}
		return b
	}
}

// FalseValue returns the type-appropriate false-equivalent used by
// fail-safe and disabled outcomes.
func (d FlagDefinition) FalseValue() any {
	switch d.Type {
	case TypeString:
		return ""
	case TypeNumeric:
		return float64(0)
	case TypeJSON:
		return nil
	default:
		return false
	}
}

// SubjectType identifies what an override applies to.
type SubjectType string

const (
	SubjectUser  SubjectType = "user"
	SubjectGroup SubjectType = "group"
)

// Override is an explicit per-user or per-group exception. It beats rules
// and rollout but not the global kill switch or the date window.
type Override struct {
	FlagKey     string      `json:"flag_key"`
	SubjectType SubjectType `json:"subject_type"`
	SubjectID   string      `json:"subject_id"`
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"created_at,omitzero"`
}

// ChangeType labels a history entry.
type ChangeType string

const (
	ChangeCreated           ChangeType = "created"
	ChangeUpdated           ChangeType = "updated"
	ChangeArchived          ChangeType = "archived"
	ChangeEmergencyDisabled ChangeType = "emergency_disabled"
	ChangeRollback          ChangeType = "rollback"
	ChangeOverrideSet       ChangeType = "override_set"
	ChangeOverrideRemoved   ChangeType = "override_removed"
)

// HistoryEntry is one append-only audit record of a flag change.
type HistoryEntry struct {
	ID         string          `json:"id"`
	FlagKey    string          `json:"flag_key"`
	ChangeType ChangeType      `json:"change_type"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EvalContext is the per-request evaluation input. It is an alias of the
// rule engine's context type so callers build it once.
type EvalContext = rules.Context

// Reason explains which precedence stage decided an evaluation outcome.
type Reason string

const (
	ReasonNotFound           Reason = "not_found"
	ReasonDisabled           Reason = "disabled"
	ReasonNotStarted         Reason = "not_started"
	ReasonExpired            Reason = "expired"
	ReasonCircularDependency Reason = "circular_dependency"
	ReasonPrereqsNotMet      Reason = "prerequisites_not_met"
	ReasonOverride           Reason = "override"
	ReasonTargeting          Reason = "targeting"
	ReasonRolloutExcluded    Reason = "rollout_excluded"
	ReasonDefault            Reason = "default"
	ReasonErrorFallback      Reason = "error_fallback"
)

// Result is the immutable outcome of one flag evaluation.
type Result struct {
	FlagKey     string    `json:"flag_key"`
	Value       any       `json:"value"`
	Enabled     bool      `json:"enabled"`
	Reason      Reason    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Action labels a propagated change notification.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionDisabled  Action = "disabled"
	ActionReloadAll Action = "reload_all"
	ActionEmergency Action = "emergency"
)

// ChangeMessage is the broadcast payload notifying other instances of a
// flag change. The schema is append-only: fields may be added but never
// renamed or repurposed, since multiple process versions share the channel
// during a rolling deploy.
type ChangeMessage struct {
	FlagKey string `json:"flag_key"`
	Action  Action `json:"action"`
	Reason  string `json:"reason,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
}
