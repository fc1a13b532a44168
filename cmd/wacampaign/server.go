package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"wacampaign/internal/errors"
	"wacampaign/internal/models"
	"wacampaign/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the REST API and the provider webhook endpoints.
type Server struct {
	broadcasts *service.BroadcastService
	sequences  *service.SequenceService
	tracker    *service.Tracker
	logger     *logrus.Logger
	router     *mux.Router
}

// NewServer wires the HTTP routes.
func NewServer(broadcasts *service.BroadcastService, sequences *service.SequenceService, tracker *service.Tracker, logger *logrus.Logger) *Server {
	s := &Server{
		broadcasts: broadcasts,
		sequences:  sequences,
		tracker:    tracker,
		logger:     logger,
		router:     mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.tenantMiddleware)

	api.HandleFunc("/broadcasts", s.handleCreateBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/broadcasts", s.handleListBroadcasts).Methods(http.MethodGet)
	api.HandleFunc("/broadcasts/{id}", s.handleGetBroadcast).Methods(http.MethodGet)
	api.HandleFunc("/broadcasts/{id}/stats", s.handleBroadcastStats).Methods(http.MethodGet)
	api.HandleFunc("/broadcasts/{id}/send", s.handleSendBroadcast).Methods(http.MethodPost)
	api.HandleFunc("/broadcasts/{id}/cancel", s.handleCancelBroadcast).Methods(http.MethodPost)
	// Pausing a live broadcast is a cancel; in-flight messages cannot be
	// recalled, so there is nothing meaningful to resume.
	api.HandleFunc("/broadcasts/{id}/pause", s.handleCancelBroadcast).Methods(http.MethodPost)

	api.HandleFunc("/sequences", s.handleCreateSequence).Methods(http.MethodPost)
	api.HandleFunc("/sequences/{id}", s.handleGetSequence).Methods(http.MethodGet)
	api.HandleFunc("/sequences/{id}", s.handleUpdateSequence).Methods(http.MethodPatch)
	api.HandleFunc("/sequences/{id}", s.handleDeleteSequence).Methods(http.MethodDelete)
	api.HandleFunc("/sequences/{id}/enroll", s.handleEnroll).Methods(http.MethodPost)
	api.HandleFunc("/sequences/{id}/unenroll", s.handleUnenroll).Methods(http.MethodPost)
	api.HandleFunc("/sequences/{id}/enrollments", s.handleListEnrollments).Methods(http.MethodGet)
	api.HandleFunc("/enrollments/{id}/pause", s.handlePauseEnrollment).Methods(http.MethodPost)
	api.HandleFunc("/enrollments/{id}/resume", s.handleResumeEnrollment).Methods(http.MethodPost)

	s.router.HandleFunc("/webhook/status", s.handleStatusWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/webhook/inbound", s.handleInboundWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/webhook/leads", s.handleLeadWebhook).Methods(http.MethodPost)
}

type contextKey string

const tenantKey contextKey = "tenant"

func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			s.writeError(w, http.StatusBadRequest, "missing X-Tenant-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(r *http.Request) string {
	tenantID, _ := r.Context().Value(tenantKey).(string)
	return tenantID
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("Request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Broadcast handlers

func (s *Server) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var b models.Broadcast
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b.TenantID = tenantFrom(r)

	created, err := s.broadcasts.CreateBroadcast(r.Context(), &b)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	list, err := s.broadcasts.ListBroadcasts(r.Context(), tenantFrom(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*models.Broadcast{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.broadcasts.GetBroadcast(r.Context(), tenantFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBroadcastStats(w http.ResponseWriter, r *http.Request) {
	b, stats, err := s.broadcasts.GetStats(r.Context(), tenantFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"broadcast": b,
		"stats":     stats,
	})
}

func (s *Server) handleSendBroadcast(w http.ResponseWriter, r *http.Request) {
	if err := s.broadcasts.Send(r.Context(), tenantFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sending"})
}

func (s *Server) handleCancelBroadcast(w http.ResponseWriter, r *http.Request) {
	report, err := s.broadcasts.Cancel(r.Context(), tenantFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// Sequence handlers

func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var seq models.Sequence
	if err := json.NewDecoder(r.Body).Decode(&seq); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	seq.TenantID = tenantFrom(r)

	created, err := s.sequences.CreateSequence(r.Context(), &seq)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := s.sequences.GetSequence(r.Context(), tenantFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, seq)
}

type sequencePatchRequest struct {
	Name              *string                 `json:"name"`
	Steps             []models.SequenceStep   `json:"steps"`
	EntryConditions   *models.EntryConditions `json:"entryConditions"`
	ExitOnReply       *bool                   `json:"exitOnReply"`
	MaxMessagesPerDay *int                    `json:"maxMessagesPerDay"`
	SendWindow        *models.SendWindow      `json:"sendWindow"`
	IsActive          *bool                   `json:"isActive"`
}

func (s *Server) handleUpdateSequence(w http.ResponseWriter, r *http.Request) {
	var req sequencePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	seq, err := s.sequences.UpdateSequence(r.Context(), tenantFrom(r), mux.Vars(r)["id"], service.SequencePatch{
		Name:              req.Name,
		Steps:             req.Steps,
		EntryConditions:   req.EntryConditions,
		ExitOnReply:       req.ExitOnReply,
		MaxMessagesPerDay: req.MaxMessagesPerDay,
		SendWindow:        req.SendWindow,
		IsActive:          req.IsActive,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, seq)
}

func (s *Server) handleDeleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.sequences.DeleteSequence(r.Context(), tenantFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enrollRequest struct {
	LeadID string `json:"leadId"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LeadID == "" {
		s.writeError(w, http.StatusBadRequest, "leadId is required")
		return
	}

	e, err := s.sequences.EnrollLead(r.Context(), tenantFrom(r), mux.Vars(r)["id"], req.LeadID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LeadID == "" {
		s.writeError(w, http.StatusBadRequest, "leadId is required")
		return
	}

	if err := s.sequences.UnenrollLead(r.Context(), tenantFrom(r), mux.Vars(r)["id"], req.LeadID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	status := models.EnrollmentStatus(r.URL.Query().Get("status"))
	list, err := s.sequences.GetEnrollments(r.Context(), tenantFrom(r), mux.Vars(r)["id"], status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []*models.Enrollment{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePauseEnrollment(w http.ResponseWriter, r *http.Request) {
	if err := s.sequences.PauseEnrollment(r.Context(), tenantFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeEnrollment(w http.ResponseWriter, r *http.Request) {
	if err := s.sequences.ResumeEnrollment(r.Context(), tenantFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Webhook handlers

func (s *Server) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	var update models.ProviderStatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if update.ProviderMessageID == "" {
		s.writeError(w, http.StatusBadRequest, "providerMessageId is required")
		return
	}

	if err := s.tracker.HandleProviderStatus(r.Context(), update); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	var reply models.InboundReply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if reply.FromPhone == "" {
		s.writeError(w, http.StatusBadRequest, "fromPhone is required")
		return
	}

	s.sequences.HandleInboundReply(r.Context(), reply)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLeadWebhook(w http.ResponseWriter, r *http.Request) {
	var lead models.Lead
	if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if lead.TenantID == "" || lead.ID == "" {
		s.writeError(w, http.StatusBadRequest, "tenantId and id are required")
		return
	}

	s.sequences.HandleLeadEvent(r.Context(), lead)
	w.WriteHeader(http.StatusOK)
}

// Response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	case errors.ErrCodeValidationFailed, errors.ErrCodeInvalidInput, errors.ErrCodeInvalidSpec:
		status = http.StatusBadRequest
	case errors.ErrCodeRecipientResolution:
		status = http.StatusBadGateway
	case errors.ErrCodeQueueFull:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	s.writeError(w, status, err.Error())
}
