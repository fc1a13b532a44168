package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wacampaign/internal/models"
)

// Message job operations

func (d *Database) SaveJob(ctx context.Context, j *models.MessageJob) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	query := `
		INSERT INTO message_jobs (
			id, tenant_id, recipient_id, phone, payload, origin_type,
			origin_id, step_index, status, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, query,
		j.ID, j.TenantID, j.RecipientID, j.Phone, string(payload), j.OriginType,
		j.OriginID, j.StepIndex, j.Status, j.Attempts, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (d *Database) GetJob(ctx context.Context, id string) (*models.MessageJob, error) {
	query := jobSelect + ` WHERE id = ?`
	return scanJob(d.db.QueryRowContext(ctx, query, id))
}

func (d *Database) GetJobByProviderID(ctx context.Context, providerMessageID string) (*models.MessageJob, error) {
	query := jobSelect + ` WHERE provider_message_id = ?`
	return scanJob(d.db.QueryRowContext(ctx, query, providerMessageID))
}

// MarkJobSent records a successful provider submission. Guarded: only a
// pending job can become sent.
func (d *Database) MarkJobSent(ctx context.Context, id, providerMessageID string, attempts int, at time.Time) (bool, error) {
	query := `
		UPDATE message_jobs
		SET status = ?, provider_message_id = ?, attempts = ?, sent_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := d.db.ExecContext(ctx, query,
		models.JobStatusSent, providerMessageID, attempts, at, time.Now().UTC(),
		id, models.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// MarkJobFailed records a terminal failure with its classification. Guarded
// against already-terminal jobs.
func (d *Database) MarkJobFailed(ctx context.Context, id string, class models.ErrorClass, detail string, attempts int, at time.Time) (bool, error) {
	query := `
		UPDATE message_jobs
		SET status = ?, error_class = ?, error_detail = ?, attempts = ?, failed_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`
	result, err := d.db.ExecContext(ctx, query,
		models.JobStatusFailed, class, detail, attempts, at, time.Now().UTC(),
		id, models.JobStatusFailed, models.JobStatusRead,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// ApplyJobStatus applies a provider-pushed status change under the monotonic
// transition guard. Returns false when the stored status does not allow the
// transition (duplicate or out-of-order update).
func (d *Database) ApplyJobStatus(ctx context.Context, id string, status models.JobStatus, at time.Time) (bool, error) {
	priors := models.PriorStatuses(status)
	if len(priors) == 0 {
		return false, nil
	}

	column := ""
	switch status {
	case models.JobStatusDelivered:
		column = "delivered_at"
	case models.JobStatusRead:
		column = "read_at"
	case models.JobStatusSent:
		column = "sent_at"
	case models.JobStatusFailed:
		column = "failed_at"
	default:
		return false, fmt.Errorf("cannot apply status %q", status)
	}

	args := []interface{}{status, at, time.Now().UTC(), id}
	placeholders := ""
	for i, s := range priors {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, s)
	}

	query := fmt.Sprintf(`
		UPDATE message_jobs
		SET status = ?, %s = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)
	`, column, placeholders)

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to apply job status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// GetOriginStats aggregates job statuses for one origin. The snapshot is
// eventually consistent with in-flight webhook updates.
func (d *Database) GetOriginStats(ctx context.Context, originType models.OriginType, originID string) (models.JobStats, error) {
	query := `
		SELECT status, COUNT(*)
		FROM message_jobs
		WHERE origin_type = ? AND origin_id = ?
		GROUP BY status
	`
	rows, err := d.db.QueryContext(ctx, query, originType, originID)
	if err != nil {
		return models.JobStats{}, fmt.Errorf("failed to get origin stats: %w", err)
	}
	defer rows.Close()

	var stats models.JobStats
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return models.JobStats{}, fmt.Errorf("failed to scan origin stats: %w", err)
		}
		switch status {
		case models.JobStatusPending:
			stats.Pending = count
		case models.JobStatusSent:
			stats.Sent = count
		case models.JobStatusDelivered:
			stats.Delivered = count
		case models.JobStatusRead:
			stats.Read = count
		case models.JobStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// ListStalePendingJobs returns pending jobs created before the cutoff,
// oldest first. These jobs never reached a worker: the queue was full when
// they were saved, or the process stopped with them still queued.
func (d *Database) ListStalePendingJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.MessageJob, error) {
	query := jobSelect + ` WHERE status = ? AND created_at < ? ORDER BY created_at LIMIT ?`
	rows, err := d.db.QueryContext(ctx, query, models.JobStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.MessageJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetStaleSentCount counts jobs stuck in sent without a provider delivery
// confirmation past the threshold.
func (d *Database) GetStaleSentCount(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	query := `
		SELECT COUNT(*) FROM message_jobs
		WHERE status = ? AND sent_at IS NOT NULL AND sent_at < ?
	`
	var count int
	if err := d.db.QueryRowContext(ctx, query, models.JobStatusSent, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stale jobs: %w", err)
	}
	return count, nil
}

const jobSelect = `
	SELECT id, tenant_id, recipient_id, phone, payload, origin_type,
		   origin_id, step_index, status, provider_message_id, error_class,
		   error_detail, attempts, created_at, sent_at, delivered_at,
		   read_at, failed_at, updated_at
	FROM message_jobs`

func scanJob(row rowScanner) (*models.MessageJob, error) {
	var (
		j           models.MessageJob
		payload     string
		providerID  sql.NullString
		errorClass  sql.NullString
		errorDetail sql.NullString
		sentAt      sql.NullTime
		deliveredAt sql.NullTime
		readAt      sql.NullTime
		failedAt    sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.TenantID, &j.RecipientID, &j.Phone, &payload, &j.OriginType,
		&j.OriginID, &j.StepIndex, &j.Status, &providerID, &errorClass,
		&errorDetail, &j.Attempts, &j.CreatedAt, &sentAt, &deliveredAt,
		&readAt, &failedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	j.ProviderMessageID = providerID.String
	j.ErrorClass = models.ErrorClass(errorClass.String)
	j.ErrorDetail = errorDetail.String
	if sentAt.Valid {
		t := sentAt.Time
		j.SentAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		j.DeliveredAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		j.ReadAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		j.FailedAt = &t
	}
	return &j, nil
}
