package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/johanake/voxera/internal/database/models"
)

const callRecordColumns = `id, call_id, carrier_call_id, direction, caller_name,
	 caller_number, callee_number, start_time, answer_time, end_time,
	 duration_secs, talk_secs, disposition, hangup_cause, recording_url`

// callHistoryRepo implements CallHistoryRepository.
type callHistoryRepo struct {
	db *DB
}

// NewCallHistoryRepository creates a new CallHistoryRepository.
func NewCallHistoryRepository(db *DB) CallHistoryRepository {
	return &callHistoryRepo{db: db}
}

// Create inserts a new call record.
func (r *callHistoryRepo) Create(ctx context.Context, rec *models.CallRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_records (call_id, carrier_call_id, direction, caller_name,
		 caller_number, callee_number, start_time, answer_time, end_time,
		 duration_secs, talk_secs, disposition, hangup_cause, recording_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.CarrierCallID, rec.Direction, rec.CallerName,
		rec.CallerNumber, rec.CalleeNumber, rec.StartTime, rec.AnswerTime,
		rec.EndTime, rec.DurationSecs, rec.TalkSecs, rec.Disposition,
		rec.HangupCause, rec.RecordingURL,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// GetByID returns a call record by ID, or nil when not found.
func (r *callHistoryRepo) GetByID(ctx context.Context, id int64) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE id = ?`, id,
	))
}

// GetByCallID returns a call record by its call id, or nil when not
// found.
func (r *callHistoryRepo) GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE call_id = ?`, callID,
	))
}

// UpdateByCarrierID finalizes the record for a carrier-bridged call
// when its status callback arrives. Unset update fields leave the
// stored values untouched.
func (r *callHistoryRepo) UpdateByCarrierID(ctx context.Context, carrierCallID string, upd CallEndUpdate) error {
	query := `UPDATE call_records SET duration_secs = ?`
	args := []any{upd.DurationSecs}

	if upd.EndTime != nil {
		query += `, end_time = ?`
		args = append(args, *upd.EndTime)
	}
	if upd.Disposition != "" {
		query += `, disposition = ?`
		args = append(args, upd.Disposition)
	}
	if upd.HangupCause != "" {
		query += `, hangup_cause = ?`
		args = append(args, upd.HangupCause)
	}
	if upd.RecordingURL != "" {
		query += `, recording_url = ?`
		args = append(args, upd.RecordingURL)
	}
	query += ` WHERE carrier_call_id = ?`
	args = append(args, carrierCallID)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating call record by carrier id: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no call record for carrier id %s", carrierCallID)
	}
	return nil
}

// List returns call records matching the filter, newest first, along
// with the total count of matches.
func (r *callHistoryRepo) List(ctx context.Context, filter CallHistoryListFilter) ([]models.CallRecord, int, error) {
	where := "1=1"
	args := []any{}

	if filter.Direction != "" {
		where += " AND direction = ?"
		args = append(args, filter.Direction)
	}
	if filter.Search != "" {
		where += " AND (caller_name LIKE ? OR caller_number LIKE ? OR callee_number LIKE ?)"
		s := "%" + filter.Search + "%"
		args = append(args, s, s, s)
	}
	if filter.StartDate != "" {
		where += " AND start_time >= ?"
		args = append(args, filter.StartDate)
	}
	if filter.EndDate != "" {
		// Exclusive upper bound; callers pass the day after the last
		// wanted date.
		where += " AND start_time < ?"
		args = append(args, filter.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM call_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	query := `SELECT ` + callRecordColumns + ` FROM call_records WHERE ` + where +
		` ORDER BY start_time DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	var recs []models.CallRecord
	for rows.Next() {
		var c models.CallRecord
		if err := rows.Scan(&c.ID, &c.CallID, &c.CarrierCallID, &c.Direction,
			&c.CallerName, &c.CallerNumber, &c.CalleeNumber, &c.StartTime,
			&c.AnswerTime, &c.EndTime, &c.DurationSecs, &c.TalkSecs,
			&c.Disposition, &c.HangupCause, &c.RecordingURL); err != nil {
			return nil, 0, fmt.Errorf("scanning call record row: %w", err)
		}
		recs = append(recs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call record rows: %w", err)
	}
	return recs, total, nil
}

// CountByDirection returns record counts grouped by direction.
func (r *callHistoryRepo) CountByDirection(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "direction")
}

// CountByDisposition returns record counts grouped by disposition.
func (r *callHistoryRepo) CountByDisposition(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "disposition")
}

func (r *callHistoryRepo) countBy(ctx context.Context, column string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM call_records GROUP BY `+column)
	if err != nil {
		return nil, fmt.Errorf("counting call records by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func (r *callHistoryRepo) scanOne(row *sql.Row) (*models.CallRecord, error) {
	var c models.CallRecord
	err := row.Scan(&c.ID, &c.CallID, &c.CarrierCallID, &c.Direction,
		&c.CallerName, &c.CallerNumber, &c.CalleeNumber, &c.StartTime,
		&c.AnswerTime, &c.EndTime, &c.DurationSecs, &c.TalkSecs,
		&c.Disposition, &c.HangupCause, &c.RecordingURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call record: %w", err)
	}
	return &c, nil
}
