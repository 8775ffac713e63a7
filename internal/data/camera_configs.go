package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// CameraConfig holds per-camera analysis overrides. Fields left empty
// fall back to the pipeline defaults at evaluation time.
type CameraConfig struct {
	CameraID      string    `json:"camera_id"`
	DisplayName   string    `json:"display_name"`
	Enabled       bool      `json:"enabled"`
	AnalysisMode  string    `json:"analysis_mode"`
	FrameCount    int       `json:"frame_count"`
	ProviderOrder []string  `json:"provider_order"`
	SnapshotURL   string    `json:"snapshot_url"`
	ClipURL       string    `json:"clip_url"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CameraConfigModel struct {
	DB DBTX
}

func (m CameraConfigModel) Get(ctx context.Context, cameraID string) (*CameraConfig, error) {
	query := `
		SELECT camera_id, display_name, enabled, analysis_mode, frame_count, provider_order, snapshot_url, clip_url, updated_at
		FROM camera_configs
		WHERE camera_id = $1`

	var c CameraConfig
	err := m.DB.QueryRowContext(ctx, query, cameraID).Scan(
		&c.CameraID, &c.DisplayName, &c.Enabled, &c.AnalysisMode,
		&c.FrameCount, pq.Array(&c.ProviderOrder), &c.SnapshotURL, &c.ClipURL, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or replaces the config for a camera. UpdatedAt is set
// by the database.
func (m CameraConfigModel) Upsert(ctx context.Context, c *CameraConfig) error {
	query := `
		INSERT INTO camera_configs (camera_id, display_name, enabled, analysis_mode, frame_count, provider_order, snapshot_url, clip_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (camera_id)
		DO UPDATE SET
			display_name   = EXCLUDED.display_name,
			enabled        = EXCLUDED.enabled,
			analysis_mode  = EXCLUDED.analysis_mode,
			frame_count    = EXCLUDED.frame_count,
			provider_order = EXCLUDED.provider_order,
			snapshot_url   = EXCLUDED.snapshot_url,
			clip_url       = EXCLUDED.clip_url,
			updated_at     = now()
		RETURNING updated_at`

	return m.DB.QueryRowContext(ctx, query,
		c.CameraID, c.DisplayName, c.Enabled, c.AnalysisMode,
		c.FrameCount, pq.Array(c.ProviderOrder), c.SnapshotURL, c.ClipURL).Scan(&c.UpdatedAt)
}

func (m CameraConfigModel) List(ctx context.Context) ([]*CameraConfig, error) {
	query := `
		SELECT camera_id, display_name, enabled, analysis_mode, frame_count, provider_order, snapshot_url, clip_url, updated_at
		FROM camera_configs
		ORDER BY camera_id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CameraConfig
	for rows.Next() {
		var c CameraConfig
		if err := rows.Scan(&c.CameraID, &c.DisplayName, &c.Enabled, &c.AnalysisMode,
			&c.FrameCount, pq.Array(&c.ProviderOrder), &c.SnapshotURL, &c.ClipURL, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (m CameraConfigModel) Delete(ctx context.Context, cameraID string) error {
	result, err := m.DB.ExecContext(ctx, `DELETE FROM camera_configs WHERE camera_id = $1`, cameraID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
