/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/altairalabs/costflow/internal/pipeline"
	"github.com/altairalabs/costflow/internal/provider"
)

// runView is the external shape of a run.
type runView struct {
	ID          string            `json:"id"`
	ProviderID  string            `json:"provider_id"`
	RetryOf     string            `json:"retry_of,omitempty"`
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	Stage       string            `json:"stage,omitempty"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Counters    pipeline.Counters `json:"counters"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toRunView(run *pipeline.Run) runView {
	v := runView{
		ID:          run.ID,
		ProviderID:  run.ProviderID,
		RetryOf:     run.RetryOf,
		Type:        string(run.Type),
		Status:      string(run.Status),
		Stage:       string(run.Stage),
		WindowStart: run.WindowStart,
		WindowEnd:   run.WindowEnd,
		Counters:    run.Counters,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
	}
	if !run.StartedAt.IsZero() {
		t := run.StartedAt
		v.StartedAt = &t
	}
	if !run.CompletedAt.IsZero() {
		t := run.CompletedAt
		v.CompletedAt = &t
	}
	return v
}

// syncRequest triggers syncs. Empty provider_id means every active provider.
type syncRequest struct {
	ProviderID string `json:"provider_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	DaysBack   int    `json:"days_back"`
}

// handleSync triggers manual syncs.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	start, err := parseTimeParam(req.Start)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	end, err := parseTimeParam(req.End)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}

	res, err := s.syncs.Trigger(r.Context(), pipeline.TriggerRequest{
		ProviderID: req.ProviderID,
		Start:      start,
		End:        end,
		DaysBack:   req.DaysBack,
	})
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "provider not found")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"run_ids": res.RunIDs,
		"errors":  res.Errors,
	})
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// handleRuns lists recent runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.syncs.Status(r.Context(), r.URL.Query().Get("provider_id"), limit)
	if err != nil {
		s.log.Error(err, "failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// handleRun routes /api/v1/runs/{id}, /api/v1/runs/{id}/cancel and
// /api/v1/runs/{id}/retry.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	suffix := pathSuffix(r.URL.Path, "/api/v1/runs")
	parts := strings.Split(suffix, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.getRun(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.cancelRun(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "retry":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.retryRun(w, r, parts[0])
	default:
		s.writeError(w, http.StatusBadRequest, "invalid path, expected /api/v1/runs/{id}")
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.syncs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error(err, "failed to get run", "id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	s.writeJSON(w, http.StatusOK, toRunView(run))
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.syncs.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrRunNotFound):
			s.writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, pipeline.ErrRunNotCancellable):
			s.writeError(w, http.StatusConflict, "run already finished")
		default:
			s.log.Error(err, "failed to cancel run", "id", id)
			s.writeError(w, http.StatusInternalServerError, "failed to cancel run")
		}
		return
	}
	s.log.Info("cancel requested", "run", id)
	s.writeJSON(w, http.StatusOK, toRunView(run))
}

func (s *Server) retryRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.syncs.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrRunNotFound):
			s.writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, pipeline.ErrRunNotTerminal):
			s.writeError(w, http.StatusConflict, "run has not finished")
		default:
			s.log.Error(err, "failed to retry run", "id", id)
			s.writeError(w, http.StatusInternalServerError, "failed to retry run")
		}
		return
	}
	s.log.Info("retry started", "run", run.ID, "retry_of", id)
	s.writeJSON(w, http.StatusAccepted, toRunView(run))
}
