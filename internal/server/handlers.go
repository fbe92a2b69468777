package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

type screenRequest struct {
	Assets []string  `json:"assets,omitempty"`
	AsOf   time.Time `json:"as_of,omitempty"`
}

type healthResponse struct {
	Status  string             `json:"status"`
	Time    time.Time          `json:"time"`
	Metrics map[string]float64 `json:"metrics"`
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var params service.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := s.backtests.Run(r.Context(), params)
	if !result.Success {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "persistence disabled")
		return
	}
	id := mux.Vars(r)["id"]
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("run_id", id).Msg("run lookup failed")
		writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	runs, err := s.store.ListRuns(r.Context(), 50)
	if err != nil {
		log.Error().Err(err).Msg("run listing failed")
		writeError(w, http.StatusInternalServerError, "run listing failed")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AsOf.IsZero() {
		req.AsOf = time.Now().UTC()
	}

	result := s.screens.Run(r.Context(), req.Assets, req.AsOf)
	if result.Error != "" {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Time:    time.Now().UTC(),
		Metrics: s.metrics.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
