package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
	"github.com/bobmcallan/tiller/internal/services/portfolio"
)

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	status := "ok"
	detail := ""
	code := http.StatusOK
	if halted, err := s.app.Orchestrator.Halted(); halted {
		status = "halted"
		detail = err.Error()
		code = http.StatusServiceUnavailable
	}

	WriteJSON(w, code, map[string]string{
		"status": status,
		"detail": detail,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// handlePortfolio handles GET /api/portfolio: current cash, holdings, and
// the most recent valuation snapshot.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()

	cash, err := s.app.Portfolio.Cash(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	holdings, err := s.app.Portfolio.Holdings(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var latest *models.PortfolioSnapshot
	snaps, err := s.app.Storage.PortfolioStore().ListSnapshots(ctx, 1)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(snaps) > 0 {
		latest = &snaps[len(snaps)-1]
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"cash":            cash,
		"holdings":        holdings,
		"latest_snapshot": latest,
	})
}

// handlePortfolioHistory handles GET /api/portfolio/history?limit=N.
func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := QueryInt(r, "limit", 100)

	snaps, err := s.app.Storage.PortfolioStore().ListSnapshots(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, snaps)
}

// handlePortfolioChart handles GET /api/portfolio/chart: PNG growth chart
// rendered from the snapshot history.
func (s *Server) handlePortfolioChart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := QueryInt(r, "limit", 200)

	snaps, err := s.app.Storage.PortfolioStore().ListSnapshots(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	png, err := portfolio.RenderGrowthChart(snaps)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handlePricesRefresh handles POST /api/prices/refresh: records a fresh
// valuation snapshot outside the schedule.
func (s *Server) handlePricesRefresh(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	snap, err := s.app.Orchestrator.RefreshPrices(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// handleDecisions handles GET /api/decisions?limit=N.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := QueryInt(r, "limit", 50)

	decisions, err := s.app.Storage.PortfolioStore().ListDecisions(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, decisions)
}

// handleOutcomes handles GET /api/outcomes?limit=N.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := QueryInt(r, "limit", 50)

	outcomes, err := s.app.Storage.PortfolioStore().ListOutcomes(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, outcomes)
}

// handleRuns handles GET /api/runs?limit=N.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := QueryInt(r, "limit", 50)

	runs, err := s.app.Storage.RunStore().List(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, runs)
}

// handleRunTrigger handles POST /api/runs/{type}/trigger: starts a manual
// run of the named agent. A run of the same type already in flight is
// rejected with 409; triggers are never queued.
func (s *Server) handleRunTrigger(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "trigger" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	runType := models.RunType(parts[0])
	if !runType.Valid() {
		WriteError(w, http.StatusBadRequest, "Unknown run type: "+parts[0])
		return
	}

	runID, err := s.app.Orchestrator.Trigger(r.Context(), runType)
	if err != nil {
		if errors.Is(err, models.ErrConcurrentRunConflict) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"run_id":   runID,
		"run_type": string(runType),
	})
}

// handleFeedbackLatest handles GET /api/feedback/latest.
func (s *Server) handleFeedbackLatest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	report, err := s.app.Storage.FeedbackStore().LatestReport(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if report == nil {
		WriteError(w, http.StatusNotFound, "No feedback reports yet")
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// handleFeedbackList handles GET /api/feedback?limit=N.
func (s *Server) handleFeedbackList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := QueryInt(r, "limit", 20)

	reports, err := s.app.Storage.FeedbackStore().ListReports(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, reports)
}
