package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wacampaign/internal/migrations"
	"wacampaign/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database persists broadcasts, sequences, enrollments and message jobs.
// Every query is scoped by tenant id unless the row key is globally unique
// (job id, provider message id).
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.InitialSchema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Broadcast operations

func (d *Database) SaveBroadcast(ctx context.Context, b *models.Broadcast) error {
	payload, err := json.Marshal(b.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	spec, err := json.Marshal(b.RecipientSpec)
	if err != nil {
		return fmt.Errorf("failed to marshal recipient spec: %w", err)
	}

	query := `
		INSERT INTO broadcasts (
			id, tenant_id, name, payload, recipient_spec,
			messages_per_minute, batch_size, scheduled_at, status,
			recipient_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = d.db.ExecContext(ctx, query,
		b.ID, b.TenantID, b.Name, string(payload), string(spec),
		b.MessagesPerMinute, b.BatchSize, nullableTime(b.ScheduledAt), b.Status,
		b.RecipientCount, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save broadcast: %w", err)
	}
	return nil
}

func (d *Database) GetBroadcast(ctx context.Context, tenantID, id string) (*models.Broadcast, error) {
	query := `
		SELECT id, tenant_id, name, payload, recipient_spec,
			   messages_per_minute, batch_size, scheduled_at, status,
			   recipient_count, created_at, updated_at
		FROM broadcasts
		WHERE tenant_id = ? AND id = ?
	`
	return scanBroadcast(d.db.QueryRowContext(ctx, query, tenantID, id))
}

func (d *Database) ListBroadcasts(ctx context.Context, tenantID string) ([]*models.Broadcast, error) {
	query := `
		SELECT id, tenant_id, name, payload, recipient_spec,
			   messages_per_minute, batch_size, scheduled_at, status,
			   recipient_count, created_at, updated_at
		FROM broadcasts
		WHERE tenant_id = ?
		ORDER BY created_at DESC
	`
	rows, err := d.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasts: %w", err)
	}
	defer rows.Close()

	var out []*models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListDueScheduledBroadcasts returns scheduled broadcasts across all tenants
// whose scheduled_at has passed.
func (d *Database) ListDueScheduledBroadcasts(ctx context.Context, now time.Time) ([]*models.Broadcast, error) {
	query := `
		SELECT id, tenant_id, name, payload, recipient_spec,
			   messages_per_minute, batch_size, scheduled_at, status,
			   recipient_count, created_at, updated_at
		FROM broadcasts
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at
	`
	rows, err := d.db.QueryContext(ctx, query, models.BroadcastStatusScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due broadcasts: %w", err)
	}
	defer rows.Close()

	var out []*models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TransitionBroadcastStatus moves a broadcast from one of the given statuses
// to the target status. Returns false without error when the broadcast was
// not in an allowed prior status, so callers can report state conflicts.
func (d *Database) TransitionBroadcastStatus(ctx context.Context, tenantID, id string, from []models.BroadcastStatus, to models.BroadcastStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no prior statuses given")
	}
	args := []interface{}{to, time.Now().UTC(), tenantID, id}
	placeholders := ""
	for i, s := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, s)
	}

	query := fmt.Sprintf(`
		UPDATE broadcasts
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status IN (%s)
	`, placeholders)

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition broadcast status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// BeginBroadcastDispatch freezes the resolved recipient count and moves the
// broadcast into sending. Guarded against double-send: only draft or
// scheduled broadcasts can begin dispatch.
func (d *Database) BeginBroadcastDispatch(ctx context.Context, tenantID, id string, recipientCount int) (bool, error) {
	query := `
		UPDATE broadcasts
		SET status = ?, recipient_count = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status IN (?, ?)
	`
	result, err := d.db.ExecContext(ctx, query,
		models.BroadcastStatusSending, recipientCount, time.Now().UTC(),
		tenantID, id, models.BroadcastStatusDraft, models.BroadcastStatusScheduled,
	)
	if err != nil {
		return false, fmt.Errorf("failed to begin broadcast dispatch: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBroadcast(row rowScanner) (*models.Broadcast, error) {
	var (
		b           models.Broadcast
		payload     string
		spec        string
		scheduledAt sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.TenantID, &b.Name, &payload, &spec,
		&b.MessagesPerMinute, &b.BatchSize, &scheduledAt, &b.Status,
		&b.RecipientCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan broadcast: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &b.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := json.Unmarshal([]byte(spec), &b.RecipientSpec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipient spec: %w", err)
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		b.ScheduledAt = &t
	}
	return &b, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
