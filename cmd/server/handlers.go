package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/internal/logger"
	"github.com/liamcoop/rtc/modelengine"
	"github.com/liamcoop/rtc/rtcerr"
)

// maxBodyBytes bounds request bodies: four documents plus JSON overhead
const maxBodyBytes = 4*modelengine.MaxDocumentBytes + 1<<20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"modelsLoaded": len(s.manager.List()),
	})
}

func (s *Server) handleEvaluateExpression(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Expression == "" {
		respondError(w, http.StatusBadRequest, "expression is required", nil)
		return
	}

	n, err := expression.Parse(req.Expression)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid expression", err)
		return
	}
	v, err := expression.Evaluate(n, req.Bindings)
	if err != nil {
		respondError(w, statusFor(err), "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{Expression: expression.String(n), Value: v})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsListResponse{Models: []ModelResponse{}}
	for _, me := range s.manager.List() {
		resp.Models = append(resp.Models, modelResponse(me))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	me, err := s.manager.Create(req.Name, req.Description, req.Bundle.Bundle())
	if err != nil {
		respondError(w, statusFor(err), "failed to create model", err)
		return
	}

	respondJSON(w, http.StatusCreated, modelResponse(me))
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	me, err := s.manager.Get(chi.URLParam(r, "modelId"))
	if err != nil {
		respondError(w, statusFor(err), "model not found", err)
		return
	}
	respondJSON(w, http.StatusOK, modelResponse(me))
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	me, err := s.manager.Update(chi.URLParam(r, "modelId"), req.Name, req.Description, req.Bundle.Bundle())
	if err != nil {
		respondError(w, statusFor(err), "failed to update model", err)
		return
	}
	respondJSON(w, http.StatusOK, modelResponse(me))
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(chi.URLParam(r, "modelId")); err != nil {
		respondError(w, statusFor(err), "failed to delete model", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportModel(w http.ResponseWriter, r *http.Request) {
	b, err := s.manager.Export(chi.URLParam(r, "modelId"))
	if err != nil {
		respondError(w, statusFor(err), "failed to export model", err)
		return
	}
	respondJSON(w, http.StatusOK, documentsFrom(b))
}

func (s *Server) handleValidateModel(w http.ResponseWriter, r *http.Request) {
	me, err := s.manager.Get(chi.URLParam(r, "modelId"))
	if err != nil {
		respondError(w, statusFor(err), "model not found", err)
		return
	}
	respondJSON(w, http.StatusOK, ValidationResponse{Valid: me.Valid(), Issues: issues(me.Reports)})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "modelId")

	var req StepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Time.IsZero() {
		respondError(w, http.StatusBadRequest, "time is required", nil)
		return
	}

	start := time.Now()
	steps, err := s.manager.Step(id, req.Time, req.Bindings)
	if err != nil {
		respondError(w, statusFor(err), "step failed", err)
		return
	}
	elapsed := time.Since(start)
	s.metrics.observeStep(elapsed)

	resp := StepResponse{Time: req.Time, EvaluationTime: elapsed.String()}
	for _, step := range steps {
		for _, rr := range step.Result.Rules {
			s.metrics.observeRule(rr.Kind, rr.Active, rr.Applied, rr.Error != nil)
		}
		resp.Groups = append(resp.Groups, stepResponse(step.Group, step.Result))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Reset(chi.URLParam(r, "modelId")); err != nil {
		respondError(w, statusFor(err), "failed to reset model", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps an error chain to an HTTP status
func statusFor(err error) int {
	var dup *rtcerr.DuplicateNameError
	var arith *rtcerr.ArithmeticError
	switch {
	case rtcerr.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &dup):
		return http.StatusConflict
	case errors.As(err, &arith):
		return http.StatusUnprocessableEntity
	case errors.Is(err, modelengine.ErrInvalidModel), rtcerr.IsInvalid(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error(message, "status", status, "error", err)
	}
	respondJSON(w, status, resp)
}
