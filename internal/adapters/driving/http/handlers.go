package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// maxBodyBytes bounds request bodies; a long conversation history fits easily
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error         string `json:"error" example:"invalid_request"`
	Message       string `json:"message" example:"tier must be one of gold, silver, bronze"`
	CorrelationID string `json:"correlation_id,omitempty" example:"0b8f5c1e-8d3c-4c1e-9a57-3f0d5f1f2a77"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// Probe endpoints

// handleHealth godoc
// @Summary      Liveness check
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Ready when the index is reachable and holds at least one chunk
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ready(r.Context()); err != nil {
		s.logger.Warn("not ready", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// handleComponentHealth godoc
// @Summary      Dependency health
// @Description  Status of the vector index, embedding and LLM services
// @Tags         Health
// @Produce      json
// @Success      200  {object}  domain.HealthReport
// @Failure      503  {object}  domain.HealthReport
// @Router       /api/v1/health [get]
func (s *Server) handleComponentHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status != domain.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// Assistant endpoints

// handleAnswer godoc
// @Summary      Answer a benefit question
// @Description  Plans, retrieves and composes an answer grounded in the knowledge base
// @Tags         Assistant
// @Accept       json
// @Produce      json
// @Param        request  body      domain.AnswerRequest  true  "Question and member scope"
// @Success      200      {object}  domain.Answer
// @Failure      400      {object}  ErrorResponse
// @Failure      503      {object}  ErrorResponse
// @Router       /api/v1/answer [post]
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req domain.AnswerRequest
	if !s.decode(w, r, &req) {
		return
	}

	answer, err := s.answers.Answer(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// handleChat godoc
// @Summary      Chat with the assistant
// @Description  Collects the member profile, then answers questions. The caller holds the conversation state.
// @Tags         Assistant
// @Accept       json
// @Produce      json
// @Param        request  body      domain.ChatRequest  true  "Message and conversation state"
// @Success      200      {object}  domain.ChatResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      503      {object}  ErrorResponse
// @Router       /api/v1/chat [post]
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if !s.decode(w, r, &req) {
		return
	}

	resp, err := s.chat.Chat(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Index endpoints

// handleIndexStats godoc
// @Summary      Index statistics
// @Description  Chunk counts by type, HMO, tier and category
// @Tags         Index
// @Produce      json
// @Success      200  {object}  domain.IndexStats
// @Failure      503  {object}  ErrorResponse
// @Router       /api/v1/index/stats [get]
func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ingestion.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleIndexRebuild godoc
// @Summary      Rebuild the index
// @Description  Queues a rebuild from the knowledge directory
// @Tags         Index
// @Produce      json
// @Success      202  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /api/v1/index/rebuild [post]
func (s *Server) handleIndexRebuild(w http.ResponseWriter, r *http.Request) {
	if s.reindexer == nil {
		s.writeDomainError(w, r, domain.ErrServiceUnavailable)
		return
	}
	status := "queued"
	if !s.reindexer.Trigger() {
		status = "already_queued"
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: status})
}

// handleIndexRebuildStatus godoc
// @Summary      Rebuild status
// @Tags         Index
// @Produce      json
// @Success      200  {object}  worker.Status
// @Failure      503  {object}  ErrorResponse
// @Router       /api/v1/index/rebuild [get]
func (s *Server) handleIndexRebuildStatus(w http.ResponseWriter, r *http.Request) {
	if s.reindexer == nil {
		s.writeDomainError(w, r, domain.ErrServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.reindexer.Health())
}

// Helper functions

// decode reads a JSON body into v, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:         domain.ErrorCategoryInvalidRequest,
			Message:       "invalid request body",
			CorrelationID: domain.CorrelationID(r.Context()),
		})
		return false
	}
	return true
}

// writeDomainError maps err to a user-safe category and status.
// Only validation messages are echoed; everything else is logged.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	category := domain.ErrorCategory(err)
	resp := ErrorResponse{Error: category, CorrelationID: domain.CorrelationID(r.Context())}

	var status int
	switch category {
	case domain.ErrorCategoryInvalidRequest:
		status = http.StatusBadRequest
		resp.Message = "invalid request"
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			resp.Message = verr.Error()
		}
	case domain.ErrorCategoryUnavailable:
		status = http.StatusServiceUnavailable
		resp.Message = "the service is temporarily unavailable, please retry"
	case domain.ErrorCategoryIndex:
		status = http.StatusServiceUnavailable
		resp.Message = "the knowledge base is temporarily unavailable, please retry"
	default:
		status = http.StatusInternalServerError
		resp.Message = "internal server error"
	}

	if category != domain.ErrorCategoryInvalidRequest {
		s.logger.Error("request failed",
			zap.Error(err),
			zap.String("category", category),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", resp.CorrelationID),
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeError(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
