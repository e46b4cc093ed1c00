package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"leadrelay/internal/autopilot"
	"leadrelay/internal/models"
	"leadrelay/internal/outbox"
	"leadrelay/internal/thread"
)

// DraftEvaluator triggers the autopilot evaluation of a pending draft.
type DraftEvaluator interface {
	EvaluateDraft(ctx context.Context, threadID, messageID uint) (autopilot.Decision, error)
}

// Server exposes the ops endpoints: provider health, outbox depth, manual
// force-retry, and the thread workflow mutations the CRM front end drives.
// Authentication lives in front of this service and is out of scope here.
type Server struct {
	db        *gorm.DB
	queue     *outbox.Queue
	threads   *thread.Store
	evaluator DraftEvaluator
}

func NewServer(db *gorm.DB, queue *outbox.Queue, evaluator DraftEvaluator) *Server {
	return &Server{db: db, queue: queue, threads: thread.NewStore(db), evaluator: evaluator}
}

// Routes builds the router with the shared middleware chain.
func (s *Server) Routes() http.Handler {
	chain := alice.New(s.logRequests)

	r := mux.NewRouter()
	r.Handle("/status/providers", chain.ThenFunc(s.providerHealth)).Methods(http.MethodGet)
	r.Handle("/status/outbox", chain.ThenFunc(s.outboxStatus)).Methods(http.MethodGet)
	r.Handle("/outbox/{eventId}/retry", chain.ThenFunc(s.forceRetry)).Methods(http.MethodPost)
	r.Handle("/threads/{threadId}/state", chain.ThenFunc(s.advanceThreadState)).Methods(http.MethodPost)
	r.Handle("/threads/{threadId}/status", chain.ThenFunc(s.setThreadStatus)).Methods(http.MethodPost)
	r.Handle("/threads/{threadId}/inbound", chain.ThenFunc(s.recordInbound)).Methods(http.MethodPost)
	r.Handle("/threads/{threadId}/drafts/{messageId}/evaluate", chain.ThenFunc(s.evaluateDraft)).Methods(http.MethodPost)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("duration", time.Since(start)).Msg("Request handled")
	})
}

func (s *Server) providerHealth(w http.ResponseWriter, r *http.Request) {
	var rows []models.ProviderHealth
	if err := s.db.Order("provider").Find(&rows).Error; err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"providers": rows})
}

func (s *Server) outboxStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var recent []models.OutboxEvent
	if err := s.db.Where("processed_at IS NULL").Order("id DESC").Limit(limit).Find(&recent).Error; err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  stats,
		"events": recent,
	})
}

func (s *Server) forceRetry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	eventID, err := strconv.ParseUint(vars["eventId"], 10, 32)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	var ev models.OutboxEvent
	if err := s.db.First(&ev, uint(eventID)).Error; err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	if ev.ProcessedAt != nil {
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "event already processed"})
		return
	}

	if err := s.queue.Release(uint(eventID)); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	log.Info().Uint64("eventID", eventID).Msg("Manual retry triggered for outbox event")
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "retry scheduled"})
}

// advanceThreadState moves a thread forward in the workflow order. Backward
// or unknown targets come back as 422 with the validation error.
func (s *Server) advanceThreadState(w http.ResponseWriter, r *http.Request) {
	threadID, ok := s.threadID(w, r)
	if !ok {
		return
	}

	var payload struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.threads.Transition(threadID, payload.State); err != nil {
		var unknown thread.ErrUnknownState
		var backward thread.ErrBackwardTransition
		switch {
		case errors.As(err, &unknown), errors.As(err, &backward):
			s.respondError(w, http.StatusUnprocessableEntity, err)
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.respondError(w, http.StatusNotFound, err)
		default:
			s.respondError(w, http.StatusInternalServerError, err)
		}
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"state": payload.State})
}

func (s *Server) setThreadStatus(w http.ResponseWriter, r *http.Request) {
	threadID, ok := s.threadID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.threads.SetStatus(threadID, payload.Status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": payload.Status})
}

// recordInbound ingests one inbound message from an upstream channel
// webhook: persists the row and refreshes the thread's engagement counters.
func (s *Server) recordInbound(w http.ResponseWriter, r *http.Request) {
	threadID, ok := s.threadID(w, r)
	if !ok {
		return
	}

	var payload struct {
		Body      string   `json:"body"`
		MediaURLs []string `json:"mediaUrls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	var t models.ConversationThread
	if err := s.db.First(&t, threadID).Error; err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}

	mediaJSON, _ := json.Marshal(payload.MediaURLs)
	msg := models.Message{
		ThreadID:       threadID,
		Direction:      models.DirectionInbound,
		Channel:        t.Channel,
		Body:           payload.Body,
		MediaURLs:      string(mediaJSON),
		DeliveryStatus: models.DeliveryDelivered,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.threads.RecordInbound(threadID, time.Now().UTC()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"messageId": msg.ID})
}

// evaluateDraft kicks off the first autopilot evaluation of a drafted
// reply. Deferred outcomes schedule their own outbox rechecks from there,
// so one call per draft is enough.
func (s *Server) evaluateDraft(w http.ResponseWriter, r *http.Request) {
	threadID, ok := s.threadID(w, r)
	if !ok {
		return
	}
	messageID, err := strconv.ParseUint(mux.Vars(r)["messageId"], 10, 32)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	d, err := s.evaluator.EvaluateDraft(r.Context(), threadID, uint(messageID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]interface{}{
		"outcome": string(d.Outcome),
		"reason":  d.Reason,
	}
	if !d.NextCheckAt.IsZero() {
		resp["nextCheckAt"] = d.NextCheckAt
	}
	if d.EscalateToSMS {
		resp["escalateToSms"] = true
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) threadID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["threadId"], 10, 32)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return uint(id), true
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, err error) {
	s.respondJSON(w, statusCode, map[string]string{"error": err.Error()})
}
