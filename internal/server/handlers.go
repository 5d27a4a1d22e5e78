package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/sentinel-core/internal/modecontrol"
	"github.com/aristath/sentinel-core/internal/stores"
)

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct, diskPct := systemStats(s.cfg.DataDir)

	deps := map[string]string{
		"mode_controller": "ok",
	}
	if s.providers != nil {
		deps["provider_router"] = "ok"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"dependencies": deps,
		"system": map[string]float64{
			"cpu_percent":  cpuPct,
			"mem_percent":  memPct,
			"disk_percent": diskPct,
		},
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

// systemStats samples CPU/memory/disk utilization. The 100ms CPU sample
// window keeps the call from blocking the request for long.
func systemStats(dataDir string) (cpuPct, memPct, diskPct float64) {
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}
	if du, err := disk.Usage(dataDir); err == nil {
		diskPct = du.UsedPercent
	}
	return
}

func (s *Server) handleGetModeInfo(w http.ResponseWriter, r *http.Request) {
	info := s.mode.ModeInfo(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":                  info.Current.ExternalLabel(),
		"manual_override":       externalLabelOrNil(info.ManualOverride),
		"suggested_by_calendar": info.SuggestedByCalendar.ExternalLabel(),
		"calendar": map[string]interface{}{
			"status":         string(info.CalendarStatus),
			"suggested_mode": info.SuggestedByCalendar.ExternalLabel(),
		},
		"historical_replay": historicalReplayOrNil(info.HistoricalReplay),
	})
}

func historicalReplayOrNil(r *modecontrol.HistoricalReplayConfig) interface{} {
	if r == nil {
		return nil
	}
	out := map[string]interface{}{
		"start_date": r.StartDate,
		"interval":   r.Interval.String(),
	}
	if r.EndDate != nil {
		out["end_date"] = *r.EndDate
	}
	return out
}

func externalLabelOrNil(m *modecontrol.Mode) interface{} {
	if m == nil {
		return nil
	}
	return m.ExternalLabel()
}

type historicalReplayRequest struct {
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Interval  string     `json:"interval"`
}

type setModeRequest struct {
	Mode             string                   `json:"mode"`
	Confirm          bool                     `json:"confirm"`
	HistoricalReplay *historicalReplayRequest `json:"historicalReplay,omitempty"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mode, err := modecontrol.ParseExternalLabel(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var replay *modecontrol.HistoricalReplayConfig
	if req.HistoricalReplay != nil {
		interval, err := time.ParseDuration(req.HistoricalReplay.Interval)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid historicalReplay.interval: %s", err))
			return
		}
		replay = &modecontrol.HistoricalReplayConfig{
			StartDate: req.HistoricalReplay.StartDate,
			EndDate:   req.HistoricalReplay.EndDate,
			Interval:  interval,
		}
	}

	result, err := s.mode.SetManual(r.Context(), mode, req.Confirm, replay)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":               result.Outcome != modecontrol.OutcomeConfirmationRequired,
		"mode":                  result.Current.ExternalLabel(),
		"confirmationRequired":  result.Outcome == modecontrol.OutcomeConfirmationRequired,
	})
}

func (s *Server) handleClearManualOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.mode.ClearManual(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	st := s.positions.State()
	s.writeJSON(w, http.StatusOK, map[string]float64{
		"available_cash": st.AvailableCash,
		"total_equity":   st.TotalEquity,
	})
}

type setBalanceRequest struct {
	Balance float64 `json:"balance"`
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	info := s.mode.ModeInfo(r.Context())
	if info.Current == modecontrol.Live {
		s.writeError(w, http.StatusConflict, "balance is owned by the broker in live mode")
		return
	}

	var req setBalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.positions.SetAvailableCash(req.Balance)
	s.writeJSON(w, http.StatusOK, map[string]float64{"available_cash": req.Balance})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	gated, err := s.orchestrator.RunCycleGated(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": !gated,
		"gated":   gated,
	})
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	cycleID := r.URL.Query().Get("cycle_id")
	if cycleID == "" {
		s.writeError(w, http.StatusBadRequest, "cycle_id is required")
		return
	}

	discStore := s.mode.CurrentStores().Decisions
	signals, err := discStore.ListDiscussions(cycleID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	status := stores.PositionActive
	if v := r.URL.Query().Get("status"); v != "" {
		status = stores.PositionStatus(v)
	}

	tradeStore := s.mode.CurrentStores().Trades
	positions, err := tradeStore.ListPositions(status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	filter := stores.TradeFilter{Instrument: r.URL.Query().Get("instrument")}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}

	tradeStore := s.mode.CurrentStores().Trades
	trades, err := tradeStore.ListTrades(filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetProviderStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.providers.Status())
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
