package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wacampaign/internal/models"
)

// Enrollment operations

func (d *Database) SaveEnrollment(ctx context.Context, e *models.Enrollment) error {
	query := `
		INSERT INTO enrollments (
			id, sequence_id, tenant_id, lead_id, phone, status,
			current_step, next_run_at, started_at, completed_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, query,
		e.ID, e.SequenceID, e.TenantID, e.LeadID, e.Phone, e.Status,
		e.CurrentStep, nullableTime(e.NextRunAt), e.StartedAt, nullableTime(e.CompletedAt),
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save enrollment: %w", err)
	}
	return nil
}

func (d *Database) GetEnrollment(ctx context.Context, tenantID, id string) (*models.Enrollment, error) {
	query := enrollmentSelect + ` WHERE tenant_id = ? AND id = ?`
	return scanEnrollment(d.db.QueryRowContext(ctx, query, tenantID, id))
}

// GetLiveEnrollment returns the non-cancelled enrollment of a lead in a
// sequence, if any. At most one exists by schema constraint.
func (d *Database) GetLiveEnrollment(ctx context.Context, sequenceID, leadID string) (*models.Enrollment, error) {
	query := enrollmentSelect + ` WHERE sequence_id = ? AND lead_id = ? AND status != ?`
	return scanEnrollment(d.db.QueryRowContext(ctx, query, sequenceID, leadID, models.EnrollmentStatusCancelled))
}

func (d *Database) ListEnrollments(ctx context.Context, tenantID, sequenceID string, status models.EnrollmentStatus) ([]*models.Enrollment, error) {
	query := enrollmentSelect + ` WHERE tenant_id = ? AND sequence_id = ?`
	args := []interface{}{tenantID, sequenceID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

// ListDueEnrollments returns active enrollments across tenants whose
// next_run_at has passed, oldest first.
func (d *Database) ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	query := enrollmentSelect + `
		WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at
		LIMIT ?`
	rows, err := d.db.QueryContext(ctx, query, models.EnrollmentStatusActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due enrollments: %w", err)
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

// ListActiveEnrollmentsByLead returns a lead's active enrollments, used by
// exit-on-reply handling.
func (d *Database) ListActiveEnrollmentsByLead(ctx context.Context, tenantID, leadID string) ([]*models.Enrollment, error) {
	query := enrollmentSelect + ` WHERE tenant_id = ? AND lead_id = ? AND status = ?`
	rows, err := d.db.QueryContext(ctx, query, tenantID, leadID, models.EnrollmentStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments by lead: %w", err)
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

// ListActiveEnrollmentsByPhone matches enrollments on the canonical phone of
// the enrolled lead.
func (d *Database) ListActiveEnrollmentsByPhone(ctx context.Context, phone string) ([]*models.Enrollment, error) {
	query := enrollmentSelect + ` WHERE phone = ? AND status = ?`
	rows, err := d.db.QueryContext(ctx, query, phone, models.EnrollmentStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments by phone: %w", err)
	}
	defer rows.Close()
	return collectEnrollments(rows)
}

// AdvanceEnrollment moves an active enrollment one step forward. The
// current_step guard makes the advance a compare-and-swap so a concurrent
// tick can never double-advance.
func (d *Database) AdvanceEnrollment(ctx context.Context, id string, fromStep int, toStep int, nextRunAt *time.Time, status models.EnrollmentStatus, completedAt *time.Time) (bool, error) {
	query := `
		UPDATE enrollments
		SET current_step = ?, next_run_at = ?, status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND current_step = ?
	`
	result, err := d.db.ExecContext(ctx, query,
		toStep, nullableTime(nextRunAt), status, nullableTime(completedAt), time.Now().UTC(),
		id, models.EnrollmentStatusActive, fromStep,
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance enrollment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// RescheduleEnrollment pushes next_run_at forward without advancing the
// step, used when the daily cap or send window blocks a due step.
func (d *Database) RescheduleEnrollment(ctx context.Context, id string, nextRunAt time.Time) error {
	query := `
		UPDATE enrollments
		SET next_run_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	_, err := d.db.ExecContext(ctx, query, nextRunAt, time.Now().UTC(), id, models.EnrollmentStatusActive)
	if err != nil {
		return fmt.Errorf("failed to reschedule enrollment: %w", err)
	}
	return nil
}

// TransitionEnrollmentStatus moves an enrollment between statuses, guarded
// by the set of allowed prior statuses.
func (d *Database) TransitionEnrollmentStatus(ctx context.Context, id string, from []models.EnrollmentStatus, to models.EnrollmentStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no prior statuses given")
	}
	args := []interface{}{to, time.Now().UTC(), id}
	placeholders := ""
	for i, s := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, s)
	}
	query := fmt.Sprintf(`
		UPDATE enrollments
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)
	`, placeholders)

	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition enrollment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// CountEnrollmentJobsSince counts dispatch attempts created for an
// enrollment at or after the given instant. Backs the daily cap.
func (d *Database) CountEnrollmentJobsSince(ctx context.Context, enrollmentID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM message_jobs
		WHERE origin_type = ? AND origin_id = ? AND created_at >= ?
	`
	var count int
	err := d.db.QueryRowContext(ctx, query, models.OriginEnrollment, enrollmentID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollment jobs: %w", err)
	}
	return count, nil
}

const enrollmentSelect = `
	SELECT id, sequence_id, tenant_id, lead_id, phone, status,
		   current_step, next_run_at, started_at, completed_at,
		   created_at, updated_at
	FROM enrollments`

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		e           models.Enrollment
		nextRunAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.SequenceID, &e.TenantID, &e.LeadID, &e.Phone, &e.Status,
		&e.CurrentStep, &nextRunAt, &e.StartedAt, &completedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		e.NextRunAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func collectEnrollments(rows *sql.Rows) ([]*models.Enrollment, error) {
	var out []*models.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
