// Package api exposes HTTP handlers for the enrollment service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"example.com/enrollment/internal/auth"
	"example.com/enrollment/internal/domain"
	"example.com/enrollment/internal/persistence"
)

// Handler coordinates HTTP requests with the enrollment service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/enrollments", h.enrollments)
	mux.HandleFunc("/v1/enrollments/", h.enrollmentAction)
	mux.HandleFunc("/v1/activities/", h.activityRoster)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) enrollments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.claim(w, r)
	case http.MethodGet:
		h.listEnrollments(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) enrollmentAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/enrollments/")
	activityID, action, ok := strings.Cut(rest, "/")
	if !ok || activityID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected /v1/enrollments/{activity}/{action}")
		return
	}

	switch {
	case action == "cancel" && r.Method == http.MethodPost:
		h.cancel(w, r, activityID)
	case action == "check-in" && r.Method == http.MethodPost:
		h.checkIn(w, r, activityID)
	case action == "complete" && r.Method == http.MethodPost:
		h.complete(w, r, activityID)
	case action == "feedback" && r.Method == http.MethodPut:
		h.submitFeedback(w, r, activityID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityRoster(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	activityID, action, ok := strings.Cut(rest, "/")
	if !ok || activityID == "" || action != "roster" {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected /v1/activities/{activity}/roster")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getRoster(w, r, activityID)
	case http.MethodPut:
		h.replaceRoster(w, r, activityID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeEnrollmentsWrite)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.ActivityID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "activity_id is required")
		return
	}

	result, err := h.service.Claim(r.Context(), claims.Subject, req.ActivityID, req.Tag)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, OperationResponse{
		Result: string(result.Outcome),
		Record: toEnrollmentView(result.Record),
	})
}

func (h *Handler) listEnrollments(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeEnrollmentsRead, auth.ScopeEnrollmentsWrite)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.ListBySubject(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]EnrollmentView, 0, len(records))
	for _, rec := range records {
		items = append(items, toEnrollmentView(rec))
	}
	writeJSON(w, http.StatusOK, ListEnrollmentsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, activityID string) {
	claims, ok := requireScope(w, r, auth.ScopeEnrollmentsWrite)
	if !ok {
		return
	}

	result, err := h.service.Cancel(r.Context(), claims.Subject, activityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := OperationResponse{
		Result: string(domain.OutcomeCancelled),
		Record: toEnrollmentView(result.Record),
	}
	if result.Promoted != nil {
		view := toEnrollmentView(*result.Promoted)
		resp.Promoted = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request, activityID string) {
	claims, ok := requireScope(w, r, auth.ScopeEnrollmentsWrite)
	if !ok {
		return
	}

	result, err := h.service.CheckIn(r.Context(), claims.Subject, activityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{
		Result: string(result.Outcome),
		Record: toEnrollmentView(result.Record),
	})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request, activityID string) {
	claims, ok := requireScope(w, r, auth.ScopeEnrollmentsWrite, auth.ScopeEnrollmentsAdmin)
	if !ok {
		return
	}

	result, err := h.service.Complete(r.Context(), claims.Subject, activityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{
		Result: string(result.Outcome),
		Record: toEnrollmentView(result.Record),
	})
}

func (h *Handler) submitFeedback(w http.ResponseWriter, r *http.Request, activityID string) {
	claims, ok := requireScope(w, r, auth.ScopeEnrollmentsWrite)
	if !ok {
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "validation_failed", "rating must be between 1 and 5")
		return
	}

	if err := h.service.SubmitFeedback(r.Context(), claims.Subject, activityID, req.Rating, req.Comment); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "accepted"})
}

func (h *Handler) getRoster(w http.ResponseWriter, r *http.Request, activityID string) {
	if _, ok := requireScope(w, r, auth.ScopeEnrollmentsRead, auth.ScopeEnrollmentsAdmin); !ok {
		return
	}

	records, err := h.service.Roster(r.Context(), activityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]EnrollmentView, 0, len(records))
	for _, rec := range records {
		items = append(items, toEnrollmentView(rec))
	}
	writeJSON(w, http.StatusOK, RosterResponse{ActivityID: activityID, Items: items})
}

func (h *Handler) replaceRoster(w http.ResponseWriter, r *http.Request, activityID string) {
	if _, ok := requireScope(w, r, auth.ScopeEnrollmentsAdmin); !ok {
		return
	}

	var req ReplaceRosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	for _, id := range req.SubjectIDs {
		if strings.TrimSpace(id) == "" {
			writeError(w, http.StatusBadRequest, "validation_failed", "subject_ids must not contain blanks")
			return
		}
	}

	result, err := h.service.ReplaceRoster(r.Context(), activityID, req.SubjectIDs, req.Tag)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]EnrollmentView, 0, len(result.Records))
	for _, rec := range result.Records {
		items = append(items, toEnrollmentView(rec))
	}
	writeJSON(w, http.StatusOK, RosterResponse{
		ActivityID: activityID,
		Items:      items,
		Replaced:   result.Replaced,
	})
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+strings.Join(scopes, " or ")+" required")
	return nil, false
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyEnrolled):
		writeError(w, http.StatusConflict, "already_enrolled", "an active enrollment exists for this activity")
	case errors.Is(err, domain.ErrActivityUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "activity_unavailable", "activity is not open for enrollment")
	case errors.Is(err, domain.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "capacity_exceeded", "roster exceeds activity capacity")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no matching enrollment record")
	case errors.Is(err, domain.ErrNotEligible):
		writeError(w, http.StatusUnprocessableEntity, "not_eligible", "enrollment state does not permit this operation")
	case errors.Is(err, domain.ErrConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "transaction_conflict", "operation could not be serialized, retry")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
