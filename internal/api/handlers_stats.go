package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil || s.stats.Stats() == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"backend":     s.stats.Name(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"params":      s.orchestrator.Params(),
		"stats":       s.stats.Stats().Snapshot(),
	})
}
