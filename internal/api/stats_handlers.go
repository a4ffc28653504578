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
	"net/http"
	"strconv"
	"time"

	"github.com/altairalabs/costflow/internal/pipeline"
)

// statsView aggregates run outcomes and loaded costs per provider.
type statsView struct {
	Since time.Time         `json:"since"`
	Runs  []runStatsView    `json:"runs"`
	Costs []costSummaryView `json:"costs"`
}

type runStatsView struct {
	ProviderID    string  `json:"provider_id"`
	TotalRuns     int     `json:"total_runs"`
	CompletedRuns int     `json:"completed_runs"`
	FailedRuns    int     `json:"failed_runs"`
	CancelledRuns int     `json:"cancelled_runs"`
	RecordsLoaded int64   `json:"records_loaded"`
	SuccessRate   float64 `json:"success_rate"`
}

type costSummaryView struct {
	ProviderID  string             `json:"provider_id"`
	RecordCount int64              `json:"record_count"`
	TotalBilled float64            `json:"total_billed"`
	TotalListed float64            `json:"total_listed"`
	ByCategory  map[string]float64 `json:"by_category,omitempty"`
}

// handleStats returns aggregated sync and cost statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	days := 0
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = parsed
	}

	stats, err := s.syncs.Stats(r.Context(), r.URL.Query().Get("provider_id"), days)
	if err != nil {
		s.log.Error(err, "failed to compute stats")
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	s.writeJSON(w, http.StatusOK, toStatsView(stats))
}

func toStatsView(stats *pipeline.Stats) statsView {
	view := statsView{
		Since: stats.Since,
		Runs:  make([]runStatsView, 0, len(stats.Runs)),
		Costs: make([]costSummaryView, 0, len(stats.Costs)),
	}
	for _, rs := range stats.Runs {
		view.Runs = append(view.Runs, runStatsView{
			ProviderID:    rs.ProviderID,
			TotalRuns:     rs.TotalRuns,
			CompletedRuns: rs.CompletedRuns,
			FailedRuns:    rs.FailedRuns,
			CancelledRuns: rs.CancelledRuns,
			RecordsLoaded: rs.RecordsLoaded,
			SuccessRate:   rs.SuccessRate,
		})
	}
	for _, cs := range stats.Costs {
		view.Costs = append(view.Costs, costSummaryView{
			ProviderID:  cs.ProviderID,
			RecordCount: cs.RecordCount,
			TotalBilled: cs.TotalBilled,
			TotalListed: cs.TotalListed,
			ByCategory:  cs.ByCategory,
		})
	}
	return view
}
