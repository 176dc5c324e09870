package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/johanake/voxera/internal/database/models"
)

// Well-known system config keys.
const (
	ConfigKeyCarrierAccountSID = "carrier_account_sid"
	ConfigKeyCarrierAuthToken  = "carrier_auth_token"
	ConfigKeyCompanyName       = "company_name"
)

// systemConfigRepo implements SystemConfigRepository.
type systemConfigRepo struct {
	db *DB
}

// NewSystemConfigRepository creates a new SystemConfigRepository.
func NewSystemConfigRepository(db *DB) SystemConfigRepository {
	return &systemConfigRepo{db: db}
}

// Get returns the value for a key, or "" when the key is unset.
func (r *systemConfigRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM system_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting config %s: %w", key, err)
	}
	return value, nil
}

// Set stores a key-value pair, replacing any existing value.
func (r *systemConfigRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO system_config (key, value, updated_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting config %s: %w", key, err)
	}
	return nil
}

// GetAll returns every config entry.
func (r *systemConfigRepo) GetAll(ctx context.Context) ([]models.SystemConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, key, value, updated_at FROM system_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying config: %w", err)
	}
	defer rows.Close()

	var entries []models.SystemConfig
	for rows.Next() {
		var e models.SystemConfig
		if err := rows.Scan(&e.ID, &e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning config row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
