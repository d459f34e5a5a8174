package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/progress"
	"github.com/fpang/storybook-faceswap/internal/service"
)

// handlePersonalize streams a full run. Once the stream has started every
// failure, including request validation, is reported as an error event.
func (s *Server) handlePersonalize(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	progress.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	sink := progress.NewWriter(w)

	res, err := s.svc.Personalize(r.Context(), req, sink)
	if err != nil {
		log.Warn().Err(err).Msg("Personalization run ended with error")
	}
	if werr := sink.Err(); werr != nil && res != nil {
		log.Info().Str("runId", res.RunID).Msg("Client disconnected before the run finished")
	}
}

func (s *Server) handlePersonalizePage(w http.ResponseWriter, r *http.Request) {
	var req service.PageRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.svc.RetryPage(r.Context(), req)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, resp)
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, faceswap.ErrInvalidConfig):
		httpError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Int("page", req.PageNumber).Msg("Single page request failed")
		httpError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.GetRun(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, run)
	case errors.Is(err, service.ErrInvalidRequest):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRunNotFound):
		httpError(w, http.StatusNotFound, "run not found")
	default:
		log.Error().Err(err).Msg("Failed to load run")
		httpError(w, http.StatusInternalServerError, "failed to load run")
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
