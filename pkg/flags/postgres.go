package flags

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talenthub/flagkit/pkg/pg"
	"github.com/talenthub/flagkit/pkg/rules"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the flag schema migrations to the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, migrationsFS, "migrations", cfg, log)
}

// PostgresStore is the durable Store backed by Postgres. Rules are stored
// as jsonb, prerequisites as a text array.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The caller owns the pool's
// lifecycle beyond Close.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const flagColumns = `key, type, description, enabled, default_value, rollout_percentage,
	rules, prerequisites, start_date, end_date, category, system_wide,
	requires_restart, cache_ttl_seconds, archived, version, created_at, updated_at`

func (s *PostgresStore) LoadActiveFlags(ctx context.Context) ([]FlagDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+flagColumns+`
		FROM feature_flags
		WHERE NOT archived
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("querying active flags: %w", err)
	}
	defer rows.Close()

	var defs []FlagDefinition
	for rows.Next() {
		def, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *PostgresStore) GetFlag(ctx context.Context, key string) (*FlagDefinition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+flagColumns+`
		FROM feature_flags
		WHERE key = $1
	`, key)

	def, err := scanFlag(row)
	if pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", ErrFlagNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *PostgresStore) SaveFlag(ctx context.Context, def FlagDefinition) error {
	rulesJSON, err := json.Marshal(def.Rules)
	if err != nil {
		return fmt.Errorf("encoding rules for %s: %w", def.Key, err)
	}
	prereqs := def.Prerequisites
	if prereqs == nil {
		prereqs = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO feature_flags (
			key, type, description, enabled, default_value, rollout_percentage,
			rules, prerequisites, start_date, end_date, category, system_wide,
			requires_restart, cache_ttl_seconds, archived, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (key) DO UPDATE SET
			type = EXCLUDED.type,
			description = EXCLUDED.description,
			enabled = EXCLUDED.enabled,
			default_value = EXCLUDED.default_value,
			rollout_percentage = EXCLUDED.rollout_percentage,
			rules = EXCLUDED.rules,
			prerequisites = EXCLUDED.prerequisites,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			category = EXCLUDED.category,
			system_wide = EXCLUDED.system_wide,
			requires_restart = EXCLUDED.requires_restart,
			cache_ttl_seconds = EXCLUDED.cache_ttl_seconds,
			archived = EXCLUDED.archived,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`, def.Key, string(def.Type), def.Description, def.Enabled, def.DefaultValue,
		def.RolloutPercentage, rulesJSON, prereqs, def.StartDate, def.EndDate,
		def.Category, def.SystemWide, def.RequiresRestart, def.CacheTTLSeconds,
		def.Archived, def.Version, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving flag %s: %w", def.Key, err)
	}
	return nil
}

func (s *PostgresStore) ArchiveFlag(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE feature_flags
		SET archived = TRUE, enabled = FALSE, version = version + 1, updated_at = NOW()
		WHERE key = $1
	`, key)
	if err != nil {
		return fmt.Errorf("archiving flag %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrFlagNotFound, key)
	}
	return nil
}

func (s *PostgresStore) RecordHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feature_flag_history (
			id, flag_key, change_type, old_value, new_value, reason, actor, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.FlagKey, string(entry.ChangeType),
		nullableJSON(entry.OldValue), nullableJSON(entry.NewValue),
		entry.Reason, entry.Actor, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", entry.FlagKey, err)
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, flagKey string, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT id, flag_key, change_type, old_value, new_value, reason, actor, created_at
		FROM feature_flag_history
		WHERE flag_key = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{flagKey}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", flagKey, err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var oldValue, newValue []byte
		if err := rows.Scan(&e.ID, &e.FlagKey, &e.ChangeType,
			&oldValue, &newValue, &e.Reason, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.OldValue = json.RawMessage(oldValue)
		e.NewValue = json.RawMessage(newValue)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetOverride(ctx context.Context, flagKey string, subjectType SubjectType, subjectID string) (*Override, error) {
	var o Override
	err := s.pool.QueryRow(ctx, `
		SELECT flag_key, subject_type, subject_id, enabled, created_at
		FROM feature_flag_overrides
		WHERE flag_key = $1 AND subject_type = $2 AND subject_id = $3
	`, flagKey, string(subjectType), subjectID).Scan(
		&o.FlagKey, &o.SubjectType, &o.SubjectID, &o.Enabled, &o.CreatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying override for %s: %w", flagKey, err)
	}
	return &o, nil
}

func (s *PostgresStore) SetOverride(ctx context.Context, o Override) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feature_flag_overrides (flag_key, subject_type, subject_id, enabled, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (flag_key, subject_type, subject_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			created_at = EXCLUDED.created_at
	`, o.FlagKey, string(o.SubjectType), o.SubjectID, o.Enabled, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("setting override for %s: %w", o.FlagKey, err)
	}
	return nil
}

func (s *PostgresStore) RemoveOverride(ctx context.Context, flagKey string, subjectType SubjectType, subjectID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM feature_flag_overrides
		WHERE flag_key = $1 AND subject_type = $2 AND subject_id = $3
	`, flagKey, string(subjectType), subjectID)
	if err != nil {
		return fmt.Errorf("removing override for %s: %w", flagKey, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlag(row rowScanner) (FlagDefinition, error) {
	var (
		def       FlagDefinition
		flagType  string
		rulesJSON []byte
		startDate *time.Time
		endDate   *time.Time
	)
	err := row.Scan(
		&def.Key, &flagType, &def.Description, &def.Enabled, &def.DefaultValue,
		&def.RolloutPercentage, &rulesJSON, &def.Prerequisites, &startDate, &endDate,
		&def.Category, &def.SystemWide, &def.RequiresRestart, &def.CacheTTLSeconds,
		&def.Archived, &def.Version, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return FlagDefinition{}, err
	}

	def.Type = FlagType(flagType)
	def.StartDate = startDate
	def.EndDate = endDate
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &def.Rules); err != nil {
			return FlagDefinition{}, fmt.Errorf("decoding rules for %s: %w", def.Key, err)
		}
	}
	if def.Rules == nil {
		def.Rules = []rules.Rule{}
	}
	return def, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
