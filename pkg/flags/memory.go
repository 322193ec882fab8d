package flags

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

type overrideKey struct {
	flagKey     string
	subjectType SubjectType
	subjectID   string
}

// MemoryStore is an in-memory Store implementation for tests and
// single-process deployments. All state is copied on the way in and out so
// callers can never mutate the store's internals.
type MemoryStore struct {
	mu        sync.RWMutex
	flags     map[string]FlagDefinition
	history   map[string][]HistoryEntry // newest first
	overrides map[overrideKey]Override
}

// NewMemoryStore creates an empty memory store. Seed it through SaveFlag
// or SeedStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:     make(map[string]FlagDefinition),
		history:   make(map[string][]HistoryEntry),
		overrides: make(map[overrideKey]Override),
	}
}

func (s *MemoryStore) LoadActiveFlags(ctx context.Context) ([]FlagDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]FlagDefinition, 0, len(s.flags))
	for _, def := range s.flags {
		if def.Archived {
			continue
		}
		result = append(result, cloneDefinition(def))
	}
	return result, nil
}

func (s *MemoryStore) GetFlag(ctx context.Context, key string) (*FlagDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.flags[key]
	if !ok {
		return nil, ErrFlagNotFound
	}
	clone := cloneDefinition(def)
	return &clone, nil
}

func (s *MemoryStore) SaveFlag(ctx context.Context, def FlagDefinition) error {
	if def.Key == "" {
		return errors.Join(ErrInvalidFlag, errors.New("flag key cannot be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.flags[def.Key]; ok {
		def.CreatedAt = existing.CreatedAt
	} else if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	def.UpdatedAt = time.Now().UTC()

	s.flags[def.Key] = cloneDefinition(def)
	return nil
}

func (s *MemoryStore) ArchiveFlag(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.flags[key]
	if !ok {
		return ErrFlagNotFound
	}
	def.Archived = true
	def.UpdatedAt = time.Now().UTC()
	s.flags[key] = def
	return nil
}

func (s *MemoryStore) RecordHistory(ctx context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[entry.FlagKey] = append([]HistoryEntry{entry}, s.history[entry.FlagKey]...)
	return nil
}

func (s *MemoryStore) ListHistory(ctx context.Context, flagKey string, limit int) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[flagKey]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return slices.Clone(entries), nil
}

func (s *MemoryStore) GetOverride(ctx context.Context, flagKey string, subjectType SubjectType, subjectID string) (*Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overrides[overrideKey{flagKey, subjectType, subjectID}]
	if !ok {
		return nil, nil
	}
	clone := o
	return &clone, nil
}

func (s *MemoryStore) SetOverride(ctx context.Context, o Override) error {
	if o.FlagKey == "" || o.SubjectID == "" {
		return errors.Join(ErrInvalidFlag, errors.New("override requires flag key and subject id"))
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[overrideKey{o.FlagKey, o.SubjectType, o.SubjectID}] = o
	return nil
}

func (s *MemoryStore) RemoveOverride(ctx context.Context, flagKey string, subjectType SubjectType, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.overrides, overrideKey{flagKey, subjectType, subjectID})
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// cloneDefinition deep-copies the slice-valued fields so shared maps never
// leak mutable state.
func cloneDefinition(def FlagDefinition) FlagDefinition {
	def.Rules = slices.Clone(def.Rules)
	def.Prerequisites = slices.Clone(def.Prerequisites)
	if def.StartDate != nil {
		start := *def.StartDate
		def.StartDate = &start
	}
	if def.EndDate != nil {
		end := *def.EndDate
		def.EndDate = &end
	}
	return def
}
