package service

import (
	"context"
	"time"

	"wacampaign/internal/errors"
	"wacampaign/internal/models"
	"wacampaign/internal/privacy"
	"wacampaign/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SequenceStore is the sequence and enrollment persistence consumed by the
// engine.
type SequenceStore interface {
	SaveSequence(ctx context.Context, s *models.Sequence) error
	UpdateSequence(ctx context.Context, s *models.Sequence) error
	GetSequence(ctx context.Context, tenantID, id string) (*models.Sequence, error)
	GetSequenceByID(ctx context.Context, id string) (*models.Sequence, error)
	ListActiveSequences(ctx context.Context, tenantID string) ([]*models.Sequence, error)
	DeleteSequence(ctx context.Context, tenantID, id string) error

	SaveEnrollment(ctx context.Context, e *models.Enrollment) error
	GetEnrollment(ctx context.Context, tenantID, id string) (*models.Enrollment, error)
	GetLiveEnrollment(ctx context.Context, sequenceID, leadID string) (*models.Enrollment, error)
	ListEnrollments(ctx context.Context, tenantID, sequenceID string, status models.EnrollmentStatus) ([]*models.Enrollment, error)
	ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error)
	ListActiveEnrollmentsByPhone(ctx context.Context, phone string) ([]*models.Enrollment, error)
	AdvanceEnrollment(ctx context.Context, id string, fromStep, toStep int, nextRunAt *time.Time, status models.EnrollmentStatus, completedAt *time.Time) (bool, error)
	RescheduleEnrollment(ctx context.Context, id string, nextRunAt time.Time) error
	TransitionEnrollmentStatus(ctx context.Context, id string, from []models.EnrollmentStatus, to models.EnrollmentStatus) (bool, error)
	CountEnrollmentJobsSince(ctx context.Context, enrollmentID string, since time.Time) (int, error)
}

// SequencePatch carries partial sequence updates. Nil fields are untouched.
type SequencePatch struct {
	Name              *string
	Steps             []models.SequenceStep
	EntryConditions   *models.EntryConditions
	ExitOnReply       *bool
	MaxMessagesPerDay *int
	SendWindow        *models.SendWindow
	IsActive          *bool
}

const dueEnrollmentBatch = 500

// SequenceService runs drip sequences: it manages sequence definitions,
// enrolls leads manually or via entry conditions, and on every scheduler
// tick dispatches the steps that have come due.
type SequenceService struct {
	store      SequenceStore
	leads      LeadStore
	governor   *Governor
	dispatcher *Dispatcher
	clock      Clock
	logger     *logrus.Logger

	perMinute          int
	defaultCountryCode string
}

// NewSequenceService creates a sequence engine. perMinute is the tenant
// minute budget sequences draw from, shared with broadcasts.
func NewSequenceService(store SequenceStore, leads LeadStore, governor *Governor, dispatcher *Dispatcher, clock Clock, perMinute int, defaultCountryCode string, logger *logrus.Logger) *SequenceService {
	return &SequenceService{
		store:              store,
		leads:              leads,
		governor:           governor,
		dispatcher:         dispatcher,
		clock:              clock,
		logger:             logger,
		perMinute:          perMinute,
		defaultCountryCode: defaultCountryCode,
	}
}

// CreateSequence validates and stores a new sequence.
func (s *SequenceService) CreateSequence(ctx context.Context, seq *models.Sequence) (*models.Sequence, error) {
	if seq.TenantID == "" {
		return nil, errors.New(errors.ErrCodeValidationFailed, "sequence requires a tenant id")
	}
	if seq.Name == "" {
		return nil, errors.New(errors.ErrCodeValidationFailed, "sequence requires a name")
	}
	if err := validation.ValidateSteps(seq.Steps); err != nil {
		return nil, err
	}
	if err := validation.ValidateSendWindow(seq.SendWindow); err != nil {
		return nil, err
	}
	if seq.MaxMessagesPerDay < 0 {
		return nil, errors.New(errors.ErrCodeValidationFailed, "max messages per day cannot be negative")
	}

	now := s.clock.Now().UTC()
	seq.ID = uuid.New().String()
	seq.IsActive = true
	seq.CreatedAt = now
	seq.UpdatedAt = now
	if err := s.store.SaveSequence(ctx, seq); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to save sequence")
	}

	s.logger.WithFields(logrus.Fields{
		"sequence_id": seq.ID,
		"steps":       len(seq.Steps),
	}).Info("Sequence created")
	return seq, nil
}

// GetSequence returns one sequence.
func (s *SequenceService) GetSequence(ctx context.Context, tenantID, id string) (*models.Sequence, error) {
	seq, err := s.store.GetSequence(ctx, tenantID, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load sequence")
	}
	if seq == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "sequence not found")
	}
	return seq, nil
}

// UpdateSequence applies a partial update. Existing enrollments keep their
// position; a shortened step list completes them on their next due tick.
func (s *SequenceService) UpdateSequence(ctx context.Context, tenantID, id string, patch SequencePatch) (*models.Sequence, error) {
	seq, err := s.GetSequence(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		seq.Name = *patch.Name
	}
	if patch.Steps != nil {
		seq.Steps = patch.Steps
	}
	if patch.EntryConditions != nil {
		seq.EntryConditions = patch.EntryConditions
	}
	if patch.ExitOnReply != nil {
		seq.ExitOnReply = *patch.ExitOnReply
	}
	if patch.MaxMessagesPerDay != nil {
		seq.MaxMessagesPerDay = *patch.MaxMessagesPerDay
	}
	if patch.SendWindow != nil {
		seq.SendWindow = *patch.SendWindow
	}
	if patch.IsActive != nil {
		seq.IsActive = *patch.IsActive
	}

	if err := validation.ValidateSteps(seq.Steps); err != nil {
		return nil, err
	}
	if err := validation.ValidateSendWindow(seq.SendWindow); err != nil {
		return nil, err
	}
	if seq.MaxMessagesPerDay < 0 {
		return nil, errors.New(errors.ErrCodeValidationFailed, "max messages per day cannot be negative")
	}

	seq.UpdatedAt = s.clock.Now().UTC()
	if err := s.store.UpdateSequence(ctx, seq); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to update sequence")
	}
	return seq, nil
}

// DeleteSequence removes a sequence and, via the schema cascade, all of its
// enrollments.
func (s *SequenceService) DeleteSequence(ctx context.Context, tenantID, id string) error {
	if _, err := s.GetSequence(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.store.DeleteSequence(ctx, tenantID, id); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to delete sequence")
	}
	s.logger.WithField("sequence_id", id).Info("Sequence deleted")
	return nil
}

// EnrollLead starts a lead on a sequence. A lead can hold at most one live
// enrollment per sequence; a cancelled enrollment does not block re-entry.
func (s *SequenceService) EnrollLead(ctx context.Context, tenantID, sequenceID, leadID string) (*models.Enrollment, error) {
	seq, err := s.GetSequence(ctx, tenantID, sequenceID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetLiveEnrollment(ctx, sequenceID, leadID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to check existing enrollment")
	}
	if existing != nil {
		return nil, errors.New(errors.ErrCodeConflict, "lead is already enrolled in this sequence")
	}

	leads, err := s.leads.GetLeads(ctx, tenantID, []string{leadID})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRecipientResolution, "failed to fetch lead from CRM")
	}
	if len(leads) == 0 {
		return nil, errors.New(errors.ErrCodeNotFound, "lead not found")
	}
	return s.enroll(ctx, seq, leads[0])
}

func (s *SequenceService) enroll(ctx context.Context, seq *models.Sequence, lead models.Lead) (*models.Enrollment, error) {
	phone, err := validation.NormalizePhoneNumber(lead.Phone, s.defaultCountryCode)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidationFailed, "lead has no usable phone number")
	}

	now := s.clock.Now().UTC()
	firstRun := ClipToWindow(seq.SendWindow, now)
	e := &models.Enrollment{
		ID:          uuid.New().String(),
		SequenceID:  seq.ID,
		TenantID:    seq.TenantID,
		LeadID:      lead.ID,
		Phone:       phone,
		Status:      models.EnrollmentStatusActive,
		CurrentStep: 0,
		NextRunAt:   &firstRun,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.SaveEnrollment(ctx, e); err != nil {
		// The partial unique index turns an enrollment race into an insert
		// failure.
		return nil, errors.Wrap(err, errors.ErrCodeConflict, "failed to save enrollment")
	}

	s.logger.WithFields(logrus.Fields{
		"sequence_id":   seq.ID,
		"enrollment_id": e.ID,
		"lead_id":       privacy.MaskLeadID(lead.ID),
	}).Info("Lead enrolled")
	return e, nil
}

// UnenrollLead cancels a lead's live enrollment in a sequence.
func (s *SequenceService) UnenrollLead(ctx context.Context, tenantID, sequenceID, leadID string) error {
	if _, err := s.GetSequence(ctx, tenantID, sequenceID); err != nil {
		return err
	}
	live, err := s.store.GetLiveEnrollment(ctx, sequenceID, leadID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to look up enrollment")
	}
	if live == nil || live.TenantID != tenantID {
		return errors.New(errors.ErrCodeNotFound, "lead is not enrolled in this sequence")
	}
	if live.Status == models.EnrollmentStatusCompleted {
		return errors.New(errors.ErrCodeConflict, "enrollment already completed")
	}

	moved, err := s.store.TransitionEnrollmentStatus(ctx, live.ID,
		[]models.EnrollmentStatus{models.EnrollmentStatusActive, models.EnrollmentStatusPaused},
		models.EnrollmentStatusCancelled)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to cancel enrollment")
	}
	if !moved {
		return errors.New(errors.ErrCodeConflict, "enrollment state changed concurrently")
	}
	s.logger.WithField("enrollment_id", live.ID).Info("Lead unenrolled")
	return nil
}

// GetEnrollments lists a sequence's enrollments, optionally filtered by
// status.
func (s *SequenceService) GetEnrollments(ctx context.Context, tenantID, sequenceID string, status models.EnrollmentStatus) ([]*models.Enrollment, error) {
	if _, err := s.GetSequence(ctx, tenantID, sequenceID); err != nil {
		return nil, err
	}
	return s.store.ListEnrollments(ctx, tenantID, sequenceID, status)
}

// PauseEnrollment freezes an active enrollment in place.
func (s *SequenceService) PauseEnrollment(ctx context.Context, tenantID, enrollmentID string) error {
	return s.transitionEnrollment(ctx, tenantID, enrollmentID,
		[]models.EnrollmentStatus{models.EnrollmentStatusActive}, models.EnrollmentStatusPaused)
}

// ResumeEnrollment reactivates a paused enrollment. Its next_run_at is
// unchanged; an overdue step fires on the next tick.
func (s *SequenceService) ResumeEnrollment(ctx context.Context, tenantID, enrollmentID string) error {
	return s.transitionEnrollment(ctx, tenantID, enrollmentID,
		[]models.EnrollmentStatus{models.EnrollmentStatusPaused}, models.EnrollmentStatusActive)
}

func (s *SequenceService) transitionEnrollment(ctx context.Context, tenantID, enrollmentID string, from []models.EnrollmentStatus, to models.EnrollmentStatus) error {
	e, err := s.store.GetEnrollment(ctx, tenantID, enrollmentID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load enrollment")
	}
	if e == nil {
		return errors.New(errors.ErrCodeNotFound, "enrollment not found")
	}
	moved, err := s.store.TransitionEnrollmentStatus(ctx, enrollmentID, from, to)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to transition enrollment")
	}
	if !moved {
		return errors.Newf(errors.ErrCodeConflict, "enrollment is %s", e.Status)
	}
	return nil
}

// Tick dispatches every due step. Blocked steps (daily cap, send window) are
// pushed to their earliest runnable instant without consuming budget.
func (s *SequenceService) Tick(ctx context.Context) {
	now := s.clock.Now().UTC()
	due, err := s.store.ListDueEnrollments(ctx, now, dueEnrollmentBatch)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list due enrollments")
		return
	}

	for _, e := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.runStep(ctx, e, now); err != nil {
			s.logger.WithError(err).WithField("enrollment_id", e.ID).Error("Failed to run sequence step")
		}
	}
}

func (s *SequenceService) runStep(ctx context.Context, e *models.Enrollment, now time.Time) error {
	seq, err := s.store.GetSequenceByID(ctx, e.SequenceID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to load sequence")
	}
	if seq == nil {
		return nil
	}
	// Deactivated sequences freeze their enrollments; steps resume where
	// they left off when the sequence is reactivated.
	if !seq.IsActive {
		return nil
	}

	if e.CurrentStep >= len(seq.Steps) {
		_, err := s.store.AdvanceEnrollment(ctx, e.ID, e.CurrentStep, e.CurrentStep, nil,
			models.EnrollmentStatusCompleted, &now)
		return err
	}

	var sentToday int
	if seq.MaxMessagesPerDay > 0 {
		midnight := LocalMidnight(seq.SendWindow.Timezone, now)
		sentToday, err = s.store.CountEnrollmentJobsSince(ctx, e.ID, midnight)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to count today's sends")
		}
	}
	allowed, retryAt := s.governor.GateStep(seq, sentToday, now)
	if !allowed {
		s.logger.WithFields(logrus.Fields{
			"enrollment_id": e.ID,
			"retry_at":      retryAt,
		}).Debug("Step blocked by cap or window, rescheduled")
		return s.store.RescheduleEnrollment(ctx, e.ID, retryAt)
	}

	if err := s.governor.Acquire(ctx, e.TenantID, s.perMinute); err != nil {
		return err
	}

	// A reply or unenrollment may have landed while we waited on the
	// budget; re-read so a cancelled enrollment never sends.
	fresh, err := s.store.GetEnrollment(ctx, e.TenantID, e.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to re-read enrollment")
	}
	if fresh == nil || fresh.Status != models.EnrollmentStatusActive || fresh.CurrentStep != e.CurrentStep {
		return nil
	}

	step := seq.Steps[e.CurrentStep]
	job := &models.MessageJob{
		ID:          uuid.New().String(),
		TenantID:    e.TenantID,
		RecipientID: e.LeadID,
		Phone:       e.Phone,
		Payload:     step.Payload,
		OriginType:  models.OriginEnrollment,
		OriginID:    e.ID,
		StepIndex:   e.CurrentStep,
		Status:      models.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.dispatcher.Enqueue(ctx, job); err != nil {
		return err
	}

	nextStep := e.CurrentStep + 1
	if nextStep >= len(seq.Steps) {
		advanced, err := s.store.AdvanceEnrollment(ctx, e.ID, e.CurrentStep, nextStep, nil,
			models.EnrollmentStatusCompleted, &now)
		if err != nil {
			return err
		}
		if advanced {
			s.logger.WithField("enrollment_id", e.ID).Info("Enrollment completed")
		}
		return nil
	}

	nextRun := ClipToWindow(seq.SendWindow, now.Add(time.Duration(seq.Steps[nextStep].DelayHours)*time.Hour))
	_, err = s.store.AdvanceEnrollment(ctx, e.ID, e.CurrentStep, nextStep, &nextRun,
		models.EnrollmentStatusActive, nil)
	return err
}

// HandleLeadEvent evaluates entry conditions when a lead is created or
// updated in the CRM and auto-enrolls matches.
func (s *SequenceService) HandleLeadEvent(ctx context.Context, lead models.Lead) {
	if lead.TenantID == "" || lead.Phone == "" {
		return
	}
	sequences, err := s.store.ListActiveSequences(ctx, lead.TenantID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list sequences for lead event")
		return
	}

	for _, seq := range sequences {
		if seq.EntryConditions == nil || !seq.EntryConditions.Matches(lead) {
			continue
		}
		live, err := s.store.GetLiveEnrollment(ctx, seq.ID, lead.ID)
		if err != nil {
			s.logger.WithError(err).WithField("sequence_id", seq.ID).Error("Failed to check live enrollment")
			continue
		}
		if live != nil {
			continue
		}
		if _, err := s.enroll(ctx, seq, lead); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"sequence_id": seq.ID,
				"lead_id":     privacy.MaskLeadID(lead.ID),
			}).Warn("Auto-enrollment failed")
		}
	}
}

// HandleInboundReply cancels exit-on-reply enrollments matching the sender's
// canonical phone number.
func (s *SequenceService) HandleInboundReply(ctx context.Context, reply models.InboundReply) {
	phone, err := validation.NormalizePhoneNumber(reply.FromPhone, s.defaultCountryCode)
	if err != nil {
		s.logger.WithField("phone", privacy.MaskPhoneNumber(reply.FromPhone)).
			Warn("Inbound reply with unusable phone number")
		return
	}

	enrollments, err := s.store.ListActiveEnrollmentsByPhone(ctx, phone)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list enrollments for inbound reply")
		return
	}
	for _, e := range enrollments {
		seq, err := s.store.GetSequenceByID(ctx, e.SequenceID)
		if err != nil || seq == nil || !seq.ExitOnReply {
			continue
		}
		moved, err := s.store.TransitionEnrollmentStatus(ctx, e.ID,
			[]models.EnrollmentStatus{models.EnrollmentStatusActive}, models.EnrollmentStatusCancelled)
		if err != nil {
			s.logger.WithError(err).WithField("enrollment_id", e.ID).Error("Failed to cancel enrollment on reply")
			continue
		}
		if moved {
			s.logger.WithFields(logrus.Fields{
				"enrollment_id": e.ID,
				"phone":         privacy.MaskPhoneNumber(phone),
			}).Info("Enrollment cancelled by reply")
		}
	}
}
