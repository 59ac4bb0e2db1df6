package rules

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/liamcoop/automations/internal/logger"
	_ "github.com/lib/pq"
)

// PostgresBackend implements Backend with one row per rule in the automations table
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend creates a PostgreSQL-backed Backend
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{
		db: db,
	}
}

// Load returns every row that decodes into a rule
func (b *PostgresBackend) Load() ([]*Rule, error) {
	rows, err := b.db.Query(`
		SELECT id, name, trigger_type, trigger_config, action_type, action_config,
		       enabled, created_at, last_run
		FROM automations
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		var (
			rec           Record
			triggerConfig []byte
			actionConfig  []byte
			enabled       bool
			createdAt     time.Time
			lastRun       sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.TriggerType, &triggerConfig,
			&rec.ActionType, &actionConfig, &enabled, &createdAt, &lastRun); err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}
		rec.TriggerConfig = triggerConfig
		rec.ActionConfig = actionConfig
		rec.Enabled = &enabled

		r, err := rec.ToRule()
		if err != nil {
			logger.WarnSkippedRecord(rec.ID, err)
			continue
		}
		r.CreatedAt = createdAt
		if lastRun.Valid {
			t := lastRun.Time
			r.LastRun = &t
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return out, nil
}

// Put inserts or replaces the row for rule.ID
func (b *PostgresBackend) Put(rule *Rule) error {
	rec, err := NewRecord(rule)
	if err != nil {
		return err
	}

	var lastRun sql.NullTime
	if rule.LastRun != nil {
		lastRun = sql.NullTime{Time: *rule.LastRun, Valid: true}
	}
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = b.db.Exec(`
		INSERT INTO automations (id, name, trigger_type, trigger_config, action_type,
		                         action_config, enabled, created_at, last_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			action_type = EXCLUDED.action_type,
			action_config = EXCLUDED.action_config,
			enabled = EXCLUDED.enabled,
			last_run = EXCLUDED.last_run
	`, rec.ID, rec.Name, rec.TriggerType, string(rec.TriggerConfig), rec.ActionType,
		string(rec.ActionConfig), rule.Enabled, createdAt, lastRun)
	if err != nil {
		return fmt.Errorf("failed to upsert automation: %w", err)
	}

	return nil
}

// Remove deletes the row for id
func (b *PostgresBackend) Remove(id string) error {
	if _, err := b.db.Exec(`DELETE FROM automations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete automation: %w", err)
	}
	return nil
}
