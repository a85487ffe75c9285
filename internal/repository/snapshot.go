package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/pumpspy/internal/models"
)

// SnapshotRepository keeps the latest snapshot of each device.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// SaveLatest replaces the stored snapshot of snap's device.
func (r *SnapshotRepository) SaveLatest(ctx context.Context, snap *models.Snapshot) error {
	query := `
		INSERT INTO latest_snapshots (device_id, snapshot, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = NOW()
	`
	if _, err := r.db.Pool.Exec(ctx, query, snap.DeviceID, *snap, snap.FetchedAt); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the stored snapshot of deviceID.
func (r *SnapshotRepository) GetLatest(ctx context.Context, deviceID string) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := r.db.Pool.QueryRow(ctx,
		`SELECT snapshot FROM latest_snapshots WHERE device_id = $1`, deviceID,
	).Scan(&snap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snap, nil
}
