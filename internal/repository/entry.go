package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/pumpspy/internal/models"
)

// EntryRepository stores configuration entries.
type EntryRepository struct {
	db *DB
}

// NewEntryRepository creates an entry repository.
func NewEntryRepository(db *DB) *EntryRepository {
	return &EntryRepository{db: db}
}

const entryColumns = `id, title, username, password, location_id, device_id, device_name, device_type, created_at, updated_at`

// Save inserts the entry, replacing an existing one for the same device.
func (r *EntryRepository) Save(ctx context.Context, entry *models.ConfigEntry) error {
	query := `
		INSERT INTO entries (title, username, password, location_id, device_id, device_name, device_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id) DO UPDATE SET
			title = EXCLUDED.title,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			location_id = EXCLUDED.location_id,
			device_name = EXCLUDED.device_name,
			device_type = EXCLUDED.device_type,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		entry.Title, entry.Username, entry.Password, entry.LocationID,
		entry.DeviceID, entry.DeviceName, entry.DeviceType,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	return nil
}

// GetByDeviceID returns the entry for deviceID.
func (r *EntryRepository) GetByDeviceID(ctx context.Context, deviceID string) (*models.ConfigEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE device_id = $1`
	return r.scanOne(ctx, query, deviceID)
}

// GetLatest returns the most recently updated entry.
func (r *EntryRepository) GetLatest(ctx context.Context) (*models.ConfigEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries ORDER BY updated_at DESC, id DESC LIMIT 1`
	return r.scanOne(ctx, query)
}

// List returns all entries ordered by id.
func (r *EntryRepository) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+entryColumns+` FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.ConfigEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes the entry for deviceID.
func (r *EntryRepository) Delete(ctx context.Context, deviceID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM entries WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *EntryRepository) scanOne(ctx context.Context, query string, args ...any) (*models.ConfigEntry, error) {
	entry, err := scanEntry(r.db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

func scanEntry(row pgx.Row) (*models.ConfigEntry, error) {
	var entry models.ConfigEntry
	var deviceName *string
	err := row.Scan(
		&entry.ID, &entry.Title, &entry.Username, &entry.Password, &entry.LocationID,
		&entry.DeviceID, &deviceName, &entry.DeviceType, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deviceName != nil {
		entry.DeviceName = *deviceName
	}
	return &entry, nil
}
