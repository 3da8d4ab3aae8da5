package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pillarworks/progression-engine/internal/application/command"
	"github.com/pillarworks/progression-engine/internal/application/query"
	"github.com/pillarworks/progression-engine/internal/application/saga"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
	"github.com/pillarworks/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Progression Engine API",
		"version":     "v1",
		"description": "REST API for season progression, review workflow and leaderboards",
		"endpoints": map[string]string{
			"health":      "/health",
			"seasons":     "/api/v1/seasons",
			"leaderboard": "/api/v1/seasons/{id}/leaderboard",
			"progress":    "/api/v1/students/{id}/progress",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleMetrics handles the metrics endpoint.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]interface{}{
		"uptime_seconds": s.Uptime().Seconds(),
		"running":        s.IsRunning(),
	}

	writeJSON(w, http.StatusOK, metrics)
}

// ══════════════════════════════════════════════════════════════════════════════
// SEASON HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListSeasons handles GET /api/v1/seasons
func (s *Server) handleListSeasons(w http.ResponseWriter, r *http.Request) {
	if s.deps.CatalogRepo == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Season catalog not configured")
		return
	}

	seasons, err := s.deps.CatalogRepo.ListSeasons(r.Context())
	if err != nil {
		s.logger.Error("failed to list seasons", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to list seasons")
		return
	}

	type seasonDTO struct {
		ID       string `json:"id"`
		Number   int    `json:"number"`
		Title    string `json:"title"`
		IsActive bool   `json:"is_active"`
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
	}

	dtos := make([]seasonDTO, 0, len(seasons))
	for _, season := range seasons {
		dtos = append(dtos, seasonDTO{
			ID:       season.ID.String(),
			Number:   season.Number,
			Title:    season.Title,
			IsActive: season.IsActive,
			StartsAt: season.Window.From.Format("2006-01-02"),
			EndsAt:   season.Window.To.Format("2006-01-02"),
		})
	}

	writeJSONWithMeta(w, r, http.StatusOK, dtos, &ResponseMeta{TotalCount: len(dtos)})
}

// handleGetSeasonOverview handles GET /api/v1/seasons/{id}
// The id "active" resolves to the currently running season.
func (s *Server) handleGetSeasonOverview(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetSeasonOverviewHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Season overview handler not configured")
		return
	}

	seasonID := r.PathValue("id")
	if seasonID == "active" {
		seasonID = ""
	}

	result, err := s.deps.GetSeasonOverviewHandler.Handle(r.Context(), query.GetSeasonOverviewQuery{
		SeasonID: seasonID,
	})
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to get season overview")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD & RANK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLeaderboard handles GET /api/v1/seasons/{id}/leaderboard
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetLeaderboardHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Leaderboard handler not configured")
		return
	}

	q := query.GetLeaderboardQuery{
		SeasonID: r.PathValue("id"),
		Limit:    getQueryParamInt(r, "limit", 20),
		Offset:   getQueryParamInt(r, "offset", 0),
	}

	result, err := s.deps.GetLeaderboardHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to get leaderboard")
		return
	}

	meta := &ResponseMeta{
		TotalCount: result.TotalRanked,
		PageSize:   q.Limit,
		HasMore:    result.HasMore,
	}
	writeJSONWithMeta(w, r, http.StatusOK, result, meta)
}

// handleGetStudentRank handles GET /api/v1/seasons/{id}/students/{studentID}/rank
func (s *Server) handleGetStudentRank(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetStudentRankHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Rank handler not configured")
		return
	}

	result, err := s.deps.GetStudentRankHandler.Handle(r.Context(), query.GetStudentRankQuery{
		SeasonID:  r.PathValue("id"),
		StudentID: r.PathValue("studentID"),
	})
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to get student rank")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetScoreHistory handles GET /api/v1/seasons/{id}/students/{studentID}/history
func (s *Server) handleGetScoreHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetScoreHistoryHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "History handler not configured")
		return
	}

	result, err := s.deps.GetScoreHistoryHandler.Handle(r.Context(), query.GetScoreHistoryQuery{
		SeasonID:  r.PathValue("id"),
		StudentID: r.PathValue("studentID"),
		Pillar:    getQueryParam(r, "pillar", ""),
		Limit:     getQueryParamInt(r, "limit", 0),
	})
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to get score history")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: result.TotalEntries})
}

// handleGetStudentProgress handles GET /api/v1/students/{id}/progress
func (s *Server) handleGetStudentProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetStudentProgressHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Progress handler not configured")
		return
	}

	result, err := s.deps.GetStudentProgressHandler.Handle(r.Context(), query.GetStudentProgressQuery{
		StudentID: r.PathValue("id"),
		SeasonID:  getQueryParam(r, "season_id", ""),
	})
	if err != nil {
		s.writeQueryError(w, r, err, "Failed to get student progress")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW WORKFLOW HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// submitTaskRequest is the body of POST /api/v1/submissions.
type submitTaskRequest struct {
	StudentID string `json:"student_id"`
	Pillar    string `json:"pillar"`

	// SubmissionID is optional; callers supply one to make retries safe.
	SubmissionID string `json:"submission_id,omitempty"`
}

// handleSubmitTask handles POST /api/v1/submissions
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.SubmitTaskHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Submit handler not configured")
		return
	}

	var req submitTaskRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.SubmitTaskHandler.Handle(r.Context(), command.SubmitTaskCommand{
		StudentID:     req.StudentID,
		Pillar:        req.Pillar,
		SubmissionID:  req.SubmissionID,
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeCommandError(w, r, err, "Failed to register submission")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"submission_id": result.SubmissionID,
		"student_id":    result.StudentID,
		"pillar":        result.Pillar,
		"status":        result.Status,
		"submitted_at":  result.SubmittedAt,
	})
}

// reviewDecisionRequest is the body of the approve/reject/resubmit endpoints.
type reviewDecisionRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Comment    string `json:"comment,omitempty"`
	Feedback   string `json:"feedback,omitempty"`

	// MentorPoints overrides the slot's base points on approval.
	MentorPoints *int `json:"mentor_points,omitempty"`

	// SeasonID scopes the approval. Empty means the active season.
	SeasonID string `json:"season_id,omitempty"`
}

// handleApproveSubmission handles POST /api/v1/submissions/{id}/approve
func (s *Server) handleApproveSubmission(w http.ResponseWriter, r *http.Request) {
	if s.deps.ApproveSubmissionHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Approve handler not configured")
		return
	}

	var req reviewDecisionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.ApproveSubmissionHandler.Handle(r.Context(), command.ApproveSubmissionCommand{
		SubmissionID:  r.PathValue("id"),
		ReviewerID:    req.ReviewerID,
		Comment:       req.Comment,
		MentorPoints:  req.MentorPoints,
		SeasonID:      req.SeasonID,
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeCommandError(w, r, err, "Failed to approve submission")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission_id":     result.SubmissionID,
		"student_id":        result.StudentID,
		"already_approved":  result.AlreadyApproved,
		"no_slot_available": result.NoSlotAvailable,
		"episode_id":        result.EpisodeID,
		"episode_ordinal":   result.EpisodeOrdinal,
		"slot_index":        result.SlotIndex,
		"points_granted":    result.PointsGranted,
	})
}

// handleRejectSubmission handles POST /api/v1/submissions/{id}/reject
func (s *Server) handleRejectSubmission(w http.ResponseWriter, r *http.Request) {
	if s.deps.RejectSubmissionHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Reject handler not configured")
		return
	}

	var req reviewDecisionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RejectSubmissionHandler.Handle(r.Context(), command.RejectSubmissionCommand{
		SubmissionID:  r.PathValue("id"),
		ReviewerID:    req.ReviewerID,
		Comment:       req.Comment,
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeCommandError(w, r, err, "Failed to reject submission")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission_id": result.SubmissionID,
		"student_id":    result.StudentID,
		"rejected_at":   result.RejectedAt,
	})
}

// handleRequestResubmission handles POST /api/v1/submissions/{id}/resubmit
func (s *Server) handleRequestResubmission(w http.ResponseWriter, r *http.Request) {
	if s.deps.RequestResubmissionHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Resubmission handler not configured")
		return
	}

	var req reviewDecisionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RequestResubmissionHandler.Handle(r.Context(), command.RequestResubmissionCommand{
		SubmissionID:  r.PathValue("id"),
		ReviewerID:    req.ReviewerID,
		Feedback:      req.Feedback,
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeCommandError(w, r, err, "Failed to request resubmission")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission_id": result.SubmissionID,
		"student_id":    result.StudentID,
		"requested_at":  result.RequestedAt,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMINISTRATIVE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// adjustScoreRequest is the body of POST /api/v1/admin/scores/adjust.
type adjustScoreRequest struct {
	StudentID string `json:"student_id"`
	SeasonID  string `json:"season_id"`
	Pillar    string `json:"pillar"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
}

// handleAdjustScore handles POST /api/v1/admin/scores/adjust
func (s *Server) handleAdjustScore(w http.ResponseWriter, r *http.Request) {
	if s.deps.AdjustScoreHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Adjust handler not configured")
		return
	}

	var req adjustScoreRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.AdjustScoreHandler.Handle(r.Context(), command.AdjustScoreCommand{
		StudentID:     req.StudentID,
		SeasonID:      req.SeasonID,
		Pillar:        req.Pillar,
		Delta:         req.Delta,
		Reason:        req.Reason,
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeCommandError(w, r, err, "Failed to adjust score")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"student_id":  result.StudentID,
		"season_id":   result.SeasonID,
		"pillar":      result.Pillar,
		"delta":       result.Delta,
		"new_total":   result.NewTotal,
		"cap_reached": result.CapReached,
		"adjusted_at": result.AdjustedAt,
	})
}

// recordStreakRequest is the body of POST /api/v1/admin/streaks/record.
type recordStreakRequest struct {
	StudentID string `json:"student_id"`
	SeasonID  string `json:"season_id,omitempty"`
}

// handleRecordStreakDay handles POST /api/v1/admin/streaks/record
// The worker credits streaks on schedule; this endpoint exists for manual
// backfill when the feed was down.
func (s *Server) handleRecordStreakDay(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordStreakDayHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Streak handler not configured")
		return
	}

	var req recordStreakRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RecordStreakDayHandler.Handle(r.Context(), command.RecordStreakDayCommand{
		StudentID:     req.StudentID,
		SeasonID:      req.SeasonID,
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeCommandError(w, r, err, "Failed to record streak day")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"student_id":        result.StudentID,
		"already_credited":  result.AlreadyCredited,
		"exhausted":         result.Exhausted,
		"episode_id":        result.EpisodeID,
		"points_granted":    result.PointsGranted,
		"episode_completed": result.EpisodeCompleted,
		"recorded_at":       result.RecordedAt,
	})
}

// handleCloseSeason handles POST /api/v1/admin/seasons/{id}/close
// Pass force=true to close a season whose window has not ended yet.
func (s *Server) handleCloseSeason(w http.ResponseWriter, r *http.Request) {
	if s.deps.SeasonClosingSaga == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Season closing not configured")
		return
	}

	result, err := s.deps.SeasonClosingSaga.Execute(r.Context(), saga.SeasonClosingInput{
		SeasonID:      r.PathValue("id"),
		Force:         getQueryParamBool(r, "force"),
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		if errors.Is(err, saga.ErrSeasonStillOpen) {
			writeJSONError(w, http.StatusConflict, "season_still_open", "Season window has not ended; pass force=true to close anyway")
			return
		}
		s.writeCommandError(w, r, err, "Failed to close season")
		return
	}

	freezeErrors := make(map[string]string, len(result.FreezeErrors))
	for studentID, ferr := range result.FreezeErrors {
		freezeErrors[studentID] = ferr.Error()
	}

	type podiumDTO struct {
		Rank      int    `json:"rank"`
		StudentID string `json:"student_id"`
		Score     int    `json:"score"`
		Medal     string `json:"medal"`
	}
	podium := make([]podiumDTO, 0, len(result.Podium))
	for _, entry := range result.Podium {
		podium = append(podium, podiumDTO{
			Rank:      int(entry.Rank),
			StudentID: entry.StudentID.String(),
			Score:     entry.TotalScore.Int(),
			Medal:     string(entry.Medal),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"season_id":     result.SeasonID,
		"frozen_count":  result.FrozenCount,
		"skipped_count": result.SkippedCount,
		"freeze_errors": freezeErrors,
		"total_ranked":  result.TotalRanked,
		"podium":        podium,
		"closed_at":     result.ClosedAt,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody reads and decodes a JSON request body. Writes a 400 response
// and returns false on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON", err.Error())
		return false
	}
	return true
}

// writeQueryError maps a read-side error to an HTTP response.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		s.logger.Error(fallback,
			logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.String("request_id", requestIDFrom(r.Context())),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", fallback)
	}
}

// writeCommandError maps a write-side error to an HTTP response.
func (s *Server) writeCommandError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	case shared.IsAlreadyExists(err):
		writeJSONError(w, http.StatusConflict, "already_exists", err.Error())
	case shared.IsFinalized(err):
		writeJSONError(w, http.StatusConflict, "season_finalized", err.Error())
	case shared.IsConflict(err):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Error(fallback,
			logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.String("request_id", requestIDFrom(r.Context())),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", fallback)
	}
}
