package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertRuleRecord is the persisted form of a user-authored rule. The
// conditions and actions stay raw JSON here; the rules package owns the
// typed shapes.
type AlertRuleRecord struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Enabled         bool            `json:"enabled"`
	ConditionsJSON  json.RawMessage `json:"conditions"`
	ActionsJSON     json.RawMessage `json:"actions"`
	CooldownSeconds int             `json:"cooldown_seconds"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	TriggerCount    int64           `json:"trigger_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r *AlertRuleRecord) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

type AlertRuleModel struct {
	DB DBTX
}

func (m AlertRuleModel) Create(ctx context.Context, r *AlertRuleRecord) error {
	query := `
		INSERT INTO alert_rules (name, enabled, conditions, actions, cooldown_seconds)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, trigger_count, created_at, updated_at`

	return m.DB.QueryRowContext(ctx, query,
		r.Name, r.Enabled, r.ConditionsJSON, r.ActionsJSON, r.CooldownSeconds,
	).Scan(&r.ID, &r.TriggerCount, &r.CreatedAt, &r.UpdatedAt)
}

func (m AlertRuleModel) GetByID(ctx context.Context, id uuid.UUID) (*AlertRuleRecord, error) {
	query := `
		SELECT id, name, enabled, conditions, actions, cooldown_seconds,
		       last_triggered_at, trigger_count, created_at, updated_at
		FROM alert_rules
		WHERE id = $1`

	return m.scanOne(m.DB.QueryRowContext(ctx, query, id))
}

func (m AlertRuleModel) List(ctx context.Context) ([]*AlertRuleRecord, error) {
	query := `
		SELECT id, name, enabled, conditions, actions, cooldown_seconds,
		       last_triggered_at, trigger_count, created_at, updated_at
		FROM alert_rules
		ORDER BY created_at`

	return m.scanMany(ctx, query)
}

func (m AlertRuleModel) ListEnabled(ctx context.Context) ([]*AlertRuleRecord, error) {
	query := `
		SELECT id, name, enabled, conditions, actions, cooldown_seconds,
		       last_triggered_at, trigger_count, created_at, updated_at
		FROM alert_rules
		WHERE enabled = true
		ORDER BY created_at`

	return m.scanMany(ctx, query)
}

func (m AlertRuleModel) Update(ctx context.Context, r *AlertRuleRecord) error {
	query := `
		UPDATE alert_rules
		SET name = $1, enabled = $2, conditions = $3, actions = $4,
		    cooldown_seconds = $5, updated_at = now()
		WHERE id = $6`

	res, err := m.DB.ExecContext(ctx, query,
		r.Name, r.Enabled, r.ConditionsJSON, r.ActionsJSON, r.CooldownSeconds, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m AlertRuleModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkTriggered writes back the fire the engine already committed to
// under its per-rule gate.
func (m AlertRuleModel) MarkTriggered(ctx context.Context, id uuid.UUID, at time.Time, count int64) error {
	query := `
		UPDATE alert_rules
		SET last_triggered_at = $1, trigger_count = $2
		WHERE id = $3`
	_, err := m.DB.ExecContext(ctx, query, at.UTC(), count, id)
	return err
}

func (m AlertRuleModel) scanOne(row *sql.Row) (*AlertRuleRecord, error) {
	var r AlertRuleRecord
	var lastTriggered sql.NullTime

	err := row.Scan(
		&r.ID, &r.Name, &r.Enabled, &r.ConditionsJSON, &r.ActionsJSON,
		&r.CooldownSeconds, &lastTriggered, &r.TriggerCount, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		r.LastTriggeredAt = &t
	}
	return &r, nil
}

func (m AlertRuleModel) scanMany(ctx context.Context, query string, args ...any) ([]*AlertRuleRecord, error) {
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AlertRuleRecord
	for rows.Next() {
		var r AlertRuleRecord
		var lastTriggered sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Enabled, &r.ConditionsJSON, &r.ActionsJSON,
			&r.CooldownSeconds, &lastTriggered, &r.TriggerCount, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if lastTriggered.Valid {
			t := lastTriggered.Time
			r.LastTriggeredAt = &t
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
