package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/talenthub/flagkit/pkg/broadcast"
	"github.com/talenthub/flagkit/pkg/rules"
)

// FlagUpdate is a partial update. Nil fields are left unchanged.
type FlagUpdate struct {
	Description       *string
	Enabled           *bool
	DefaultValue      *string
	RolloutPercentage *int
	Rules             *[]rules.Rule
	Prerequisites     *[]string
	StartDate         *time.Time
	EndDate           *time.Time
	ClearStartDate    bool
	ClearEndDate      bool
	Category          *string
	SystemWide        *bool
	RequiresRestart   *bool
	CacheTTLSeconds   *int

	// BaseVersion enables optimistic concurrency: when non-zero the update
	// is rejected with ErrStaleUpdate unless it matches the stored version.
	// Zero skips the check (last write wins).
	BaseVersion int64
}

// Invalidator synchronously purges one flag from an evaluator's caches
// and snapshot. Evaluator implements it; a service wired to a same-process
// evaluator uses it so a write is visible to the very next evaluation in
// that process, without waiting for the broadcast round trip.
type Invalidator interface {
	InvalidateFlag(ctx context.Context, key string)
}

// Service is the administrative write path: it validates mutations,
// persists them through the store, records exactly one history entry per
// operation, invalidates the local evaluator synchronously, and publishes
// exactly one change message for remote evaluators.
type Service struct {
	store Store
	bus   broadcast.Broadcaster[ChangeMessage]
	inv   Invalidator
	log   *slog.Logger
	now   func() time.Time

	// maintenance suspends normal writes; emergency disable still goes
	// through.
	maintenance atomic.Bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithInvalidator wires a same-process evaluator for synchronous
// invalidation on every write.
func WithInvalidator(inv Invalidator) ServiceOption {
	return func(s *Service) { s.inv = inv }
}

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the administrative service. The broadcaster may be nil
// for single-instance deployments; change messages are then skipped and
// evaluators converge via resync.
func NewService(store Store, bus broadcast.Broadcaster[ChangeMessage], opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		bus:   bus,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new flag. The key must be unused, including by
// archived flags.
func (s *Service) Create(ctx context.Context, def FlagDefinition, actor, reason string) (FlagDefinition, error) {
	if err := s.guardMaintenance(); err != nil {
		return FlagDefinition{}, err
	}
	if err := validateDefinition(def); err != nil {
		return FlagDefinition{}, err
	}

	existing, err := s.store.GetFlag(ctx, def.Key)
	if err != nil && !errors.Is(err, ErrFlagNotFound) {
		return FlagDefinition{}, fmt.Errorf("check existing flag: %w", err)
	}
	if existing != nil {
		return FlagDefinition{}, fmt.Errorf("%w: %s", ErrFlagExists, def.Key)
	}

	if err := s.checkPrerequisiteCycle(ctx, def); err != nil {
		return FlagDefinition{}, err
	}

	now := s.now().UTC()
	def.Version = 1
	def.Archived = false
	def.CreatedAt = now
	def.UpdatedAt = now
	if def.Type == "" {
		def.Type = TypeBoolean
	}

	if err := s.store.SaveFlag(ctx, def); err != nil {
		return FlagDefinition{}, fmt.Errorf("save flag %s: %w", def.Key, err)
	}

	if err := s.record(ctx, def.Key, ChangeCreated, nil, &def, actor, reason); err != nil {
		return FlagDefinition{}, err
	}
	s.publish(ctx, def.Key, ActionCreated, reason, actor)
	s.log.Info("flag created", "flag_key", def.Key, "actor", actor)
	return def, nil
}

// Update applies a partial update. Disabling a flag through an update is
// broadcast as a disable so evaluators purge it immediately.
func (s *Service) Update(ctx context.Context, key string, upd FlagUpdate, actor, reason string) (FlagDefinition, error) {
	if err := s.guardMaintenance(); err != nil {
		return FlagDefinition{}, err
	}

	current, err := s.store.GetFlag(ctx, key)
	if err != nil {
		return FlagDefinition{}, err
	}
	if upd.BaseVersion != 0 && current.Version != upd.BaseVersion {
		return FlagDefinition{}, fmt.Errorf("%w: flag %s is at version %d, update based on %d",
			ErrStaleUpdate, key, current.Version, upd.BaseVersion)
	}

	next := applyUpdate(*current, upd)
	if err := validateDefinition(next); err != nil {
		return FlagDefinition{}, err
	}
	if err := s.checkPrerequisiteCycle(ctx, next); err != nil {
		return FlagDefinition{}, err
	}

	next.Version = current.Version + 1
	next.UpdatedAt = s.now().UTC()

	if err := s.store.SaveFlag(ctx, next); err != nil {
		return FlagDefinition{}, fmt.Errorf("save flag %s: %w", key, err)
	}

	if err := s.record(ctx, key, ChangeUpdated, current, &next, actor, reason); err != nil {
		return FlagDefinition{}, err
	}

	action := ActionUpdated
	if current.Enabled && !next.Enabled {
		action = ActionDisabled
	}
	s.publish(ctx, key, action, reason, actor)
	s.log.Info("flag updated", "flag_key", key, "version", next.Version, "actor", actor)
	return next, nil
}

// Archive soft-deletes a flag. The definition and its history survive for
// audit; evaluation treats the flag as not found.
func (s *Service) Archive(ctx context.Context, key, actor, reason string) error {
	if err := s.guardMaintenance(); err != nil {
		return err
	}

	current, err := s.store.GetFlag(ctx, key)
	if err != nil {
		return err
	}

	next := *current
	next.Archived = true
	next.Enabled = false
	next.Version = current.Version + 1
	next.UpdatedAt = s.now().UTC()

	if err := s.store.ArchiveFlag(ctx, key); err != nil {
		return fmt.Errorf("archive flag %s: %w", key, err)
	}

	if err := s.record(ctx, key, ChangeArchived, current, &next, actor, reason); err != nil {
		return err
	}
	s.publish(ctx, key, ActionDeleted, reason, actor)
	s.log.Info("flag archived", "flag_key", key, "actor", actor)
	return nil
}

// EmergencyDisable force-disables a flag, bypassing validation, the
// maintenance gate, and the optimistic concurrency check. It always wins
// over concurrent normal updates.
func (s *Service) EmergencyDisable(ctx context.Context, key, actor, reason string) error {
	current, err := s.store.GetFlag(ctx, key)
	if err != nil {
		return err
	}

	next := *current
	next.Enabled = false
	next.Version = current.Version + 1
	next.UpdatedAt = s.now().UTC()

	if err := s.store.SaveFlag(ctx, next); err != nil {
		return fmt.Errorf("emergency disable %s: %w", key, err)
	}

	if err := s.record(ctx, key, ChangeEmergencyDisabled, current, &next, actor, reason); err != nil {
		return err
	}
	s.publish(ctx, key, ActionEmergency, reason, actor)
	s.log.Warn("flag emergency disabled", "flag_key", key, "actor", actor, "reason", reason)
	return nil
}

// Rollback restores the definition as it was the given number of flag
// changes ago, as a fresh versioned write. Override history does not count
// as a step.
func (s *Service) Rollback(ctx context.Context, key string, steps int, actor, reason string) (FlagDefinition, error) {
	if err := s.guardMaintenance(); err != nil {
		return FlagDefinition{}, err
	}
	if steps <= 0 {
		steps = 1
	}

	current, err := s.store.GetFlag(ctx, key)
	if err != nil {
		return FlagDefinition{}, err
	}

	entries, err := s.store.ListHistory(ctx, key, 0)
	if err != nil {
		return FlagDefinition{}, fmt.Errorf("load history for %s: %w", key, err)
	}

	restored, err := definitionStepsBack(entries, steps)
	if err != nil {
		return FlagDefinition{}, err
	}

	next := *restored
	next.Key = key
	next.Archived = false
	next.Version = current.Version + 1
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now().UTC()

	if err := validateDefinition(next); err != nil {
		return FlagDefinition{}, err
	}
	if err := s.checkPrerequisiteCycle(ctx, next); err != nil {
		return FlagDefinition{}, err
	}

	if err := s.store.SaveFlag(ctx, next); err != nil {
		return FlagDefinition{}, fmt.Errorf("save rollback of %s: %w", key, err)
	}

	if err := s.record(ctx, key, ChangeRollback, current, &next, actor, reason); err != nil {
		return FlagDefinition{}, err
	}
	s.publish(ctx, key, ActionUpdated, reason, actor)
	s.log.Info("flag rolled back", "flag_key", key, "steps", steps, "version", next.Version, "actor", actor)
	return next, nil
}

// SetOverride creates or replaces a per-subject exception. System-wide
// flags reject overrides.
func (s *Service) SetOverride(ctx context.Context, o Override, actor, reason string) error {
	if err := s.guardMaintenance(); err != nil {
		return err
	}
	if o.FlagKey == "" || o.SubjectID == "" {
		return fmt.Errorf("%w: override needs a flag key and subject id", ErrInvalidFlag)
	}
	if o.SubjectType != SubjectUser && o.SubjectType != SubjectGroup {
		return fmt.Errorf("%w: unknown override subject type %q", ErrInvalidFlag, o.SubjectType)
	}

	def, err := s.store.GetFlag(ctx, o.FlagKey)
	if err != nil {
		return err
	}
	if def.SystemWide {
		return fmt.Errorf("%w: %s is system-wide and does not accept overrides", ErrInvalidFlag, o.FlagKey)
	}

	o.CreatedAt = s.now().UTC()
	if err := s.store.SetOverride(ctx, o); err != nil {
		return fmt.Errorf("set override on %s: %w", o.FlagKey, err)
	}

	if err := s.recordOverride(ctx, ChangeOverrideSet, o, actor, reason); err != nil {
		return err
	}
	s.publish(ctx, o.FlagKey, ActionUpdated, reason, actor)
	s.log.Info("flag override set",
		"flag_key", o.FlagKey, "subject_type", string(o.SubjectType), "subject_id", o.SubjectID, "actor", actor)
	return nil
}

// RemoveOverride deletes a per-subject exception. Removing a missing
// override is not an error.
func (s *Service) RemoveOverride(ctx context.Context, flagKey string, subjectType SubjectType, subjectID, actor, reason string) error {
	if err := s.guardMaintenance(); err != nil {
		return err
	}

	if err := s.store.RemoveOverride(ctx, flagKey, subjectType, subjectID); err != nil {
		return fmt.Errorf("remove override on %s: %w", flagKey, err)
	}

	o := Override{FlagKey: flagKey, SubjectType: subjectType, SubjectID: subjectID}
	if err := s.recordOverride(ctx, ChangeOverrideRemoved, o, actor, reason); err != nil {
		return err
	}
	s.publish(ctx, flagKey, ActionUpdated, reason, actor)
	s.log.Info("flag override removed",
		"flag_key", flagKey, "subject_type", string(subjectType), "subject_id", subjectID, "actor", actor)
	return nil
}

// ListFlags returns all active flags.
func (s *Service) ListFlags(ctx context.Context) ([]FlagDefinition, error) {
	return s.store.LoadActiveFlags(ctx)
}

// ListByCategory returns active flags in the given category.
func (s *Service) ListByCategory(ctx context.Context, category string) ([]FlagDefinition, error) {
	defs, err := s.store.LoadActiveFlags(ctx)
	if err != nil {
		return nil, err
	}
	filtered := defs[:0:0]
	for _, def := range defs {
		if def.Category == category {
			filtered = append(filtered, def)
		}
	}
	return filtered, nil
}

// History returns the newest-first change log for a flag.
func (s *Service) History(ctx context.Context, key string, limit int) ([]HistoryEntry, error) {
	return s.store.ListHistory(ctx, key, limit)
}

// SetMaintenance toggles maintenance mode. While on, every write except
// EmergencyDisable is rejected.
func (s *Service) SetMaintenance(on bool) {
	s.maintenance.Store(on)
	if on {
		s.log.Warn("flag maintenance mode enabled")
	} else {
		s.log.Info("flag maintenance mode disabled")
	}
}

// InMaintenance reports whether maintenance mode is on.
func (s *Service) InMaintenance() bool {
	return s.maintenance.Load()
}

// ReloadAll asks every evaluator instance to resync from the store.
func (s *Service) ReloadAll(ctx context.Context, actor, reason string) {
	s.publish(ctx, "", ActionReloadAll, reason, actor)
}

func (s *Service) guardMaintenance() error {
	if s.maintenance.Load() {
		return ErrMaintenance
	}
	return nil
}

// record writes the audit entry for a definition change. A history failure
// surfaces to the caller even though the flag itself was saved: the write
// is live, but the operator must know the audit trail has a gap.
func (s *Service) record(ctx context.Context, key string, ct ChangeType, old, next *FlagDefinition, actor, reason string) error {
	var oldRaw, newRaw json.RawMessage
	if old != nil {
		oldRaw = marshalValue(*old)
	}
	if next != nil {
		newRaw = marshalValue(*next)
	}
	entry := HistoryEntry{
		ID:         uuid.NewString(),
		FlagKey:    key,
		ChangeType: ct,
		OldValue:   oldRaw,
		NewValue:   newRaw,
		Reason:     reason,
		Actor:      actor,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.RecordHistory(ctx, entry); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrHistoryWrite, ct, key, err)
	}
	return nil
}

func (s *Service) recordOverride(ctx context.Context, ct ChangeType, o Override, actor, reason string) error {
	entry := HistoryEntry{
		ID:         uuid.NewString(),
		FlagKey:    o.FlagKey,
		ChangeType: ct,
		NewValue:   marshalValue(o),
		Reason:     reason,
		Actor:      actor,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.RecordHistory(ctx, entry); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrHistoryWrite, ct, o.FlagKey, err)
	}
	return nil
}

// publish makes the write visible: the wired same-process evaluator is
// invalidated synchronously, then the change message goes out for remote
// instances. Broadcast failures are logged, not returned: the write is
// durable, and resync covers missed messages.
func (s *Service) publish(ctx context.Context, key string, action Action, reason, actor string) {
	if key != "" && s.inv != nil {
		s.inv.InvalidateFlag(ctx, key)
	}
	if s.bus == nil {
		return
	}
	msg := broadcast.Message[ChangeMessage]{Data: ChangeMessage{
		FlagKey: key,
		Action:  action,
		Reason:  reason,
		ActorID: actor,
	}}
	if err := s.bus.Broadcast(ctx, msg); err != nil {
		s.log.Error("change broadcast failed, evaluators converge on resync",
			"flag_key", key, "action", string(action), "error", err)
	}
}

// checkPrerequisiteCycle walks the prerequisite graph from def, treating
// def's own pending prerequisites as the starting edges so a cycle
// introduced by this very write is caught before it is stored. Unknown
// prerequisite keys are permitted; they fail closed at evaluation time.
func (s *Service) checkPrerequisiteCycle(ctx context.Context, def FlagDefinition) error {
	inStack := map[string]bool{}

	var visit func(key string, prereqs []string) error
	visit = func(key string, prereqs []string) error {
		inStack[key] = true
		defer delete(inStack, key)

		for _, p := range prereqs {
			if inStack[p] {
				return fmt.Errorf("%w: %s -> %s", ErrPrerequisiteCycle, key, p)
			}
			pd, err := s.store.GetFlag(ctx, p)
			if errors.Is(err, ErrFlagNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("resolve prerequisite %s: %w", p, err)
			}
			prereqChain := pd.Prerequisites
			if p == def.Key {
				prereqChain = def.Prerequisites
			}
			if err := visit(p, prereqChain); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(def.Key, def.Prerequisites)
}

func validateDefinition(def FlagDefinition) error {
	if def.Key == "" {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidFlag)
	}
	switch def.Type {
	case "", TypeBoolean, TypeString, TypeNumeric, TypeJSON:
	default:
		return fmt.Errorf("%w: unknown flag type %q", ErrInvalidFlag, def.Type)
	}
	if def.RolloutPercentage < 0 || def.RolloutPercentage > 100 {
		return fmt.Errorf("%w: rollout percentage %d out of range", ErrInvalidFlag, def.RolloutPercentage)
	}
	if def.StartDate != nil && def.EndDate != nil && def.EndDate.Before(*def.StartDate) {
		return fmt.Errorf("%w: end date precedes start date", ErrInvalidFlag)
	}
	for _, p := range def.Prerequisites {
		if p == def.Key {
			return fmt.Errorf("%w: flag depends on itself", ErrPrerequisiteCycle)
		}
	}
	return nil
}

func applyUpdate(def FlagDefinition, upd FlagUpdate) FlagDefinition {
	if upd.Description != nil {
		def.Description = *upd.Description
	}
	if upd.Enabled != nil {
		def.Enabled = *upd.Enabled
	}
	if upd.DefaultValue != nil {
		def.DefaultValue = *upd.DefaultValue
	}
	if upd.RolloutPercentage != nil {
		def.RolloutPercentage = *upd.RolloutPercentage
	}
	if upd.Rules != nil {
		def.Rules = *upd.Rules
	}
	if upd.Prerequisites != nil {
		def.Prerequisites = *upd.Prerequisites
	}
	if upd.StartDate != nil {
		def.StartDate = upd.StartDate
	}
	if upd.ClearStartDate {
		def.StartDate = nil
	}
	if upd.EndDate != nil {
		def.EndDate = upd.EndDate
	}
	if upd.ClearEndDate {
		def.EndDate = nil
	}
	if upd.Category != nil {
		def.Category = *upd.Category
	}
	if upd.SystemWide != nil {
		def.SystemWide = *upd.SystemWide
	}
	if upd.RequiresRestart != nil {
		def.RequiresRestart = *upd.RequiresRestart
	}
	if upd.CacheTTLSeconds != nil {
		def.CacheTTLSeconds = *upd.CacheTTLSeconds
	}
	return def
}

// definitionStepsBack finds the definition as it stood the given number of
// flag changes ago, using the OldValue snapshots of newest-first entries.
func definitionStepsBack(entries []HistoryEntry, steps int) (*FlagDefinition, error) {
	seen := 0
	for _, entry := range entries {
		switch entry.ChangeType {
		case ChangeOverrideSet, ChangeOverrideRemoved:
			continue
		}
		if len(entry.OldValue) == 0 {
			continue
		}
		seen++
		if seen < steps {
			continue
		}
		var def FlagDefinition
		if err := json.Unmarshal(entry.OldValue, &def); err != nil {
			return nil, fmt.Errorf("%w: corrupt history snapshot %s: %v", ErrNoHistory, entry.ID, err)
		}
		return &def, nil
	}
	return nil, fmt.Errorf("%w: fewer than %d flag changes recorded", ErrNoHistory, steps)
}

func marshalValue(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
