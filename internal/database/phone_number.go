package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/johanake/voxera/internal/database/models"
)

const phoneNumberColumns = `id, number, name, flow_id, enabled, created_at, updated_at`

// phoneNumberRepo implements PhoneNumberRepository.
type phoneNumberRepo struct {
	db *DB
}

// NewPhoneNumberRepository creates a new PhoneNumberRepository.
func NewPhoneNumberRepository(db *DB) PhoneNumberRepository {
	return &phoneNumberRepo{db: db}
}

// Create inserts a new phone number.
func (r *phoneNumberRepo) Create(ctx context.Context, num *models.PhoneNumber) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO phone_numbers (number, name, flow_id, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))`,
		num.Number, num.Name, num.FlowID, num.Enabled,
	)
	if err != nil {
		return fmt.Errorf("inserting phone number: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	num.ID = id
	return nil
}

// GetByID returns a phone number by ID, or nil when not found.
func (r *phoneNumberRepo) GetByID(ctx context.Context, id int64) (*models.PhoneNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers WHERE id = ?`, id,
	))
}

// GetByNumber returns a phone number by its E.164 form, or nil when not
// found.
func (r *phoneNumberRepo) GetByNumber(ctx context.Context, number string) (*models.PhoneNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers WHERE number = ?`, number,
	))
}

// List returns all phone numbers ordered by number.
func (r *phoneNumberRepo) List(ctx context.Context) ([]models.PhoneNumber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+phoneNumberColumns+` FROM phone_numbers ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("querying phone numbers: %w", err)
	}
	defer rows.Close()

	var nums []models.PhoneNumber
	for rows.Next() {
		var n models.PhoneNumber
		if err := rows.Scan(&n.ID, &n.Number, &n.Name, &n.FlowID, &n.Enabled,
			&n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning phone number row: %w", err)
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

// Update modifies an existing phone number.
func (r *phoneNumberRepo) Update(ctx context.Context, num *models.PhoneNumber) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE phone_numbers SET number = ?, name = ?, flow_id = ?, enabled = ?,
		 updated_at = datetime('now') WHERE id = ?`,
		num.Number, num.Name, num.FlowID, num.Enabled, num.ID,
	)
	if err != nil {
		return fmt.Errorf("updating phone number: %w", err)
	}
	return nil
}

// Delete removes a phone number by ID.
func (r *phoneNumberRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM phone_numbers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting phone number: %w", err)
	}
	return nil
}

func (r *phoneNumberRepo) scanOne(row *sql.Row) (*models.PhoneNumber, error) {
	var n models.PhoneNumber
	err := row.Scan(&n.ID, &n.Number, &n.Name, &n.FlowID, &n.Enabled,
		&n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning phone number: %w", err)
	}
	return &n, nil
}
