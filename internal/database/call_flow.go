package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/johanake/voxera/internal/database/models"
)

const callFlowColumns = `id, name, flow_data, entry_node, published, created_at, updated_at`

// callFlowRepo implements CallFlowRepository.
type callFlowRepo struct {
	db *DB
}

// NewCallFlowRepository creates a new CallFlowRepository.
func NewCallFlowRepository(db *DB) CallFlowRepository {
	return &callFlowRepo{db: db}
}

// Create inserts a new call flow.
func (r *callFlowRepo) Create(ctx context.Context, flow *models.CallFlow) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_flows (name, flow_data, entry_node, published, created_at, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))`,
		flow.Name, flow.FlowData, flow.EntryNode, flow.Published,
	)
	if err != nil {
		return fmt.Errorf("inserting call flow: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	flow.ID = id
	return nil
}

// GetByID returns a call flow by ID, or nil when not found.
func (r *callFlowRepo) GetByID(ctx context.Context, id int64) (*models.CallFlow, error) {
	var f models.CallFlow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+callFlowColumns+` FROM call_flows WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.FlowData, &f.EntryNode, &f.Published,
		&f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call flow: %w", err)
	}
	return &f, nil
}

// List returns all call flows ordered by name.
func (r *callFlowRepo) List(ctx context.Context) ([]models.CallFlow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callFlowColumns+` FROM call_flows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying call flows: %w", err)
	}
	defer rows.Close()

	var flows []models.CallFlow
	for rows.Next() {
		var f models.CallFlow
		if err := rows.Scan(&f.ID, &f.Name, &f.FlowData, &f.EntryNode, &f.Published,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning call flow row: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// Update modifies an existing call flow.
func (r *callFlowRepo) Update(ctx context.Context, flow *models.CallFlow) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_flows SET name = ?, flow_data = ?, entry_node = ?, published = ?,
		 updated_at = datetime('now') WHERE id = ?`,
		flow.Name, flow.FlowData, flow.EntryNode, flow.Published, flow.ID,
	)
	if err != nil {
		return fmt.Errorf("updating call flow: %w", err)
	}
	return nil
}

// SetPublished toggles a flow's published state.
func (r *callFlowRepo) SetPublished(ctx context.Context, id int64, published bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_flows SET published = ?, updated_at = datetime('now') WHERE id = ?`,
		published, id,
	)
	if err != nil {
		return fmt.Errorf("publishing call flow: %w", err)
	}
	return nil
}

// Delete removes a call flow by ID.
func (r *callFlowRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM call_flows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting call flow: %w", err)
	}
	return nil
}
