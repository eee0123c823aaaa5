package proxyserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	poolStats := s.pool.Statistics()
	snap := s.stats.GetStatistics()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"pool": map[string]any{
			"total":     poolStats.Total,
			"available": poolStats.Available,
			"exhausted": poolStats.Exhausted,
		},
		"requests": map[string]any{
			"total":              snap.TotalRequests,
			"successful":         snap.SuccessfulRequests,
			"failed":             snap.FailedRequests,
			"success_rate":       snap.SuccessRate,
			"uptime_seconds":     snap.UptimeSeconds,
			"estimated_cost_usd": snap.EstimatedCostUSD,
		},
		"health": s.stats.GetHealthStatus(),
	})
}

func (s *Server) handleAdminAddAccount(w http.ResponseWriter, r *http.Request) {
	result, err := s.oauthCtl.AddAccount()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": result.AccessToken,
		"quota_info":   map[string]any{"chat": result.Quota.Chat},
		"duplicate":    result.Duplicate,
		"success":      result.Success,
	})
}

func (s *Server) handleAdminRecoveryScan(w http.ResponseWriter, r *http.Request) {
	restored := s.scanner.CheckExhaustedTokens(s.cfg.CooldownDir)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"restored_count": len(restored),
	})
}

func (s *Server) handleAdminBackupExport(w http.ResponseWriter, r *http.Request) {
	password := r.URL.Query().Get("password")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="backup.zip"`)
	if err := s.backupEng.Export(w, password); err != nil {
		writeError(w, http.StatusInternalServerError, "backup export failed: "+err.Error())
		return
	}
}

func (s *Server) handleAdminBackupImport(w http.ResponseWriter, r *http.Request) {
	password := r.URL.Query().Get("password")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read archive body")
		return
	}

	inserted, err := s.backupEng.Import(bytes.NewReader(body), int64(len(body)), password)
	if err != nil {
		writeError(w, http.StatusBadRequest, "backup import failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"inserted_count": len(inserted),
	})
}
