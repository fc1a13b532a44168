package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wacampaign/internal/models"
)

// Sequence operations

func (d *Database) SaveSequence(ctx context.Context, s *models.Sequence) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	var conditions interface{}
	if s.EntryConditions != nil {
		raw, err := json.Marshal(s.EntryConditions)
		if err != nil {
			return fmt.Errorf("failed to marshal entry conditions: %w", err)
		}
		conditions = string(raw)
	}

	query := `
		INSERT INTO sequences (
			id, tenant_id, name, steps, entry_conditions, exit_on_reply,
			max_messages_per_day, window_start, window_end, window_timezone,
			is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, query,
		s.ID, s.TenantID, s.Name, string(steps), conditions, s.ExitOnReply,
		s.MaxMessagesPerDay, s.SendWindow.Start, s.SendWindow.End, s.SendWindow.Timezone,
		s.IsActive, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sequence: %w", err)
	}
	return nil
}

func (d *Database) UpdateSequence(ctx context.Context, s *models.Sequence) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	var conditions interface{}
	if s.EntryConditions != nil {
		raw, err := json.Marshal(s.EntryConditions)
		if err != nil {
			return fmt.Errorf("failed to marshal entry conditions: %w", err)
		}
		conditions = string(raw)
	}

	query := `
		UPDATE sequences
		SET name = ?, steps = ?, entry_conditions = ?, exit_on_reply = ?,
			max_messages_per_day = ?, window_start = ?, window_end = ?,
			window_timezone = ?, is_active = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	result, err := d.db.ExecContext(ctx, query,
		s.Name, string(steps), conditions, s.ExitOnReply,
		s.MaxMessagesPerDay, s.SendWindow.Start, s.SendWindow.End,
		s.SendWindow.Timezone, s.IsActive, time.Now().UTC(),
		s.TenantID, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no sequence found with ID: %s", s.ID)
	}
	return nil
}

func (d *Database) GetSequence(ctx context.Context, tenantID, id string) (*models.Sequence, error) {
	query := sequenceSelect + ` WHERE tenant_id = ? AND id = ?`
	return scanSequence(d.db.QueryRowContext(ctx, query, tenantID, id))
}

// GetSequenceByID fetches a sequence without tenant scoping. Internal use
// only: the caller already holds a tenant-scoped enrollment row.
func (d *Database) GetSequenceByID(ctx context.Context, id string) (*models.Sequence, error) {
	query := sequenceSelect + ` WHERE id = ?`
	return scanSequence(d.db.QueryRowContext(ctx, query, id))
}

func (d *Database) ListActiveSequences(ctx context.Context, tenantID string) ([]*models.Sequence, error) {
	query := sequenceSelect + ` WHERE tenant_id = ? AND is_active = 1 ORDER BY created_at`
	rows, err := d.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sequences: %w", err)
	}
	defer rows.Close()

	var out []*models.Sequence
	for rows.Next() {
		s, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *Database) DeleteSequence(ctx context.Context, tenantID, id string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM sequences WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete sequence: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no sequence found with ID: %s", id)
	}
	return nil
}

const sequenceSelect = `
	SELECT id, tenant_id, name, steps, entry_conditions, exit_on_reply,
		   max_messages_per_day, window_start, window_end, window_timezone,
		   is_active, created_at, updated_at
	FROM sequences`

func scanSequence(row rowScanner) (*models.Sequence, error) {
	var (
		s          models.Sequence
		steps      string
		conditions sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.TenantID, &s.Name, &steps, &conditions, &s.ExitOnReply,
		&s.MaxMessagesPerDay, &s.SendWindow.Start, &s.SendWindow.End,
		&s.SendWindow.Timezone, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sequence: %w", err)
	}

	if err := json.Unmarshal([]byte(steps), &s.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	if conditions.Valid && conditions.String != "" {
		s.EntryConditions = &models.EntryConditions{}
		if err := json.Unmarshal([]byte(conditions.String), s.EntryConditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry conditions: %w", err)
		}
	}
	return &s, nil
}
