package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// RunMatchingRequest for POST /api/matching/run
type RunMatchingRequest struct {
	MatchingYear int `json:"matching_year"`
}

// ResultListResponse for GET /api/matching/results
type ResultListResponse struct {
	Results []models.MatchResult `json:"results"`
	Total   int                  `json:"total"`
}

// UnmatchableListResponse for GET /api/matching/unmatchable
type UnmatchableListResponse struct {
	Entries []models.UnmatchableEntry `json:"entries"`
	Total   int                       `json:"total"`
}

// DriftResponse for GET /api/matching/drift
type DriftResponse struct {
	Stale []models.StaleMatch `json:"stale"`
	Total int                 `json:"total"`
}

// RuleListResponse for GET /api/rules
type RuleListResponse struct {
	Rules []models.NormalizationRule `json:"rules"`
	Total int                        `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// MatchingHandler handles the matching, review, and inspection HTTP
// surface. The caller's identity arrives as an opaque X-Actor-ID header
// set by the external authorization layer.
type MatchingHandler struct {
	matchingService services.MatchingService
	reviewService   services.ReviewService
	conflictService services.ConflictService
	driftService    services.DriftService
	ruleService     services.RuleService
	logger          *zap.Logger
}

// NewMatchingHandler creates a new matching handler.
func NewMatchingHandler(
	matchingService services.MatchingService,
	reviewService services.ReviewService,
	conflictService services.ConflictService,
	driftService services.DriftService,
	ruleService services.RuleService,
	logger *zap.Logger,
) *MatchingHandler {
	return &MatchingHandler{
		matchingService: matchingService,
		reviewService:   reviewService,
		conflictService: conflictService,
		driftService:    driftService,
		ruleService:     ruleService,
		logger:          logger,
	}
}

// RegisterRoutes registers the matching handler's routes on the given mux.
func (h *MatchingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/matching/run", h.Run)
	mux.HandleFunc("GET /api/matching/preview", h.Preview)
	mux.HandleFunc("GET /api/matching/results", h.ListResults)
	mux.HandleFunc("GET /api/matching/conflicts", h.CheckConflicts)
	mux.HandleFunc("GET /api/matching/unmatchable", h.ListUnmatchable)
	mux.HandleFunc("POST /api/matching/status", h.UpdateStatus)
	mux.HandleFunc("GET /api/matching/drift", h.Drift)
	mux.HandleFunc("GET /api/normalize", h.Normalize)
	mux.HandleFunc("GET /api/rules", h.ListRules)
}

// writeError maps service errors onto HTTP status codes. Conflict
// responses carry the full conflict detail so a reviewer sees who holds
// the device without a second request.
func (h *MatchingHandler) writeError(w http.ResponseWriter, errorCode string, err error) {
	var conflict *apperrors.ConflictError
	var status int
	switch {
	case errors.As(err, &conflict):
		if werr := WriteJSON(w, http.StatusConflict, ApiResponse{
			Success: false,
			Error:   "match_conflict",
			Message: conflict.Error(),
			Data: map[string]any{
				"equipment_serial":   conflict.EquipmentSerial,
				"target_key":         conflict.TargetKey,
				"held_by_target_key": conflict.HeldByTargetKey,
				"matching_year":      conflict.MatchingYear,
			},
		}); werr != nil {
			h.logger.Error("Failed to write conflict response", zap.Error(werr))
		}
		return
	case errors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrConcurrentModification):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	if werr := ErrorResponse(w, status, errorCode, err.Error()); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}

func yearParam(r *http.Request) int {
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	return year
}

// Run handles POST /api/matching/run
func (h *MatchingHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunMatchingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request_body", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	summary, err := h.matchingService.RunMatching(r.Context(), req.MatchingYear)
	if err != nil {
		h.logger.Error("Matching run failed",
			zap.Int("matching_year", req.MatchingYear),
			zap.Error(err))
		h.writeError(w, "matching_run_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: summary}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Preview handles GET /api/matching/preview
func (h *MatchingHandler) Preview(w http.ResponseWriter, r *http.Request) {
	result, err := h.matchingService.PreviewTarget(r.Context(),
		r.URL.Query().Get("target_key"), yearParam(r))
	if err != nil {
		h.writeError(w, "preview_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListResults handles GET /api/matching/results
func (h *MatchingHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.matchingService.ListResults(r.Context(), yearParam(r),
		r.URL.Query().Get("status"), r.URL.Query().Get("sido"))
	if err != nil {
		h.writeError(w, "list_results_failed", err)
		return
	}
	if results == nil {
		results = []models.MatchResult{}
	}

	response := ResultListResponse{Results: results, Total: len(results)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CheckConflicts handles GET /api/matching/conflicts
func (h *MatchingHandler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	targetKey := r.URL.Query().Get("target_key")
	var numbers []string
	if raw := r.URL.Query().Get("management_numbers"); raw != "" {
		numbers = strings.Split(raw, ",")
	}

	report, err := h.conflictService.CheckExistingMatches(r.Context(), targetKey, numbers, yearParam(r))
	if err != nil {
		h.writeError(w, "conflict_check_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListUnmatchable handles GET /api/matching/unmatchable
func (h *MatchingHandler) ListUnmatchable(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reviewService.ListUnmatchable(r.Context(), yearParam(r),
		r.URL.Query().Get("sido"), r.URL.Query().Get("gugun"))
	if err != nil {
		h.writeError(w, "list_unmatchable_failed", err)
		return
	}
	if entries == nil {
		entries = []models.UnmatchableEntry{}
	}

	response := UnmatchableListResponse{Entries: entries, Total: len(entries)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateStatus handles POST /api/matching/status
func (h *MatchingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-Actor-ID")
	if actorID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_actor", "X-Actor-ID header is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req services.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request_body", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ctx := models.WithActor(r.Context(), models.Actor{ID: actorID})
	result, err := h.reviewService.UpdateMatchStatus(ctx, &req)
	if err != nil {
		h.logger.Warn("Status update rejected",
			zap.String("target_key", req.TargetKey),
			zap.String("status", req.Status),
			zap.String("actor_id", actorID),
			zap.Error(err))
		h.writeError(w, "update_status_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Drift handles GET /api/matching/drift
func (h *MatchingHandler) Drift(w http.ResponseWriter, r *http.Request) {
	stale, err := h.driftService.FindStale(r.Context(), yearParam(r))
	if err != nil {
		h.writeError(w, "drift_check_failed", err)
		return
	}
	if stale == nil {
		stale = []models.StaleMatch{}
	}

	response := DriftResponse{Stale: stale, Total: len(stale)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Normalize handles GET /api/normalize
func (h *MatchingHandler) Normalize(w http.ResponseWriter, r *http.Request) {
	preview, err := h.ruleService.Preview(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.writeError(w, "normalize_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: preview}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListRules handles GET /api/rules
func (h *MatchingHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.ruleService.List(r.Context())
	if err != nil {
		h.writeError(w, "list_rules_failed", err)
		return
	}
	if rules == nil {
		rules = []models.NormalizationRule{}
	}

	response := RuleListResponse{Rules: rules, Total: len(rules)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
