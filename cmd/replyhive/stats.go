package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/replyhive/replyhive/jobq"
	"github.com/replyhive/replyhive/store"
)

type queueStats struct {
	Depth int `json:"depth"`
	Dead  int `json:"dead"`
}

type statsResponse struct {
	Queues map[string]queueStats `json:"queues"`
	Usage  []*store.DailyUsage   `json:"usage,omitempty"`
	Recent []*store.ReplyLog     `json:"recent,omitempty"`
}

// statsHandler reports queue depths, and with ?user= the user's quota
// consumption for today plus their most recent reply log rows.
func statsHandler(st *store.Store, queues map[string]*jobq.Q) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := statsResponse{Queues: make(map[string]queueStats, len(queues))}
		for name, q := range queues {
			var qs queueStats
			var err error
			if qs.Depth, err = q.Len(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if qs.Dead, err = q.DeadLen(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp.Queues[name] = qs
		}

		if userID := r.URL.Query().Get("user"); userID != "" {
			var err error
			if resp.Usage, err = st.UsageForUser(ctx, userID, store.DayKey(time.Now())); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if resp.Recent, err = st.RecentLogs(ctx, userID, 50); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
