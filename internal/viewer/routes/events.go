// internal/viewer/routes/events.go

package routes

import (
	"net/http"
)

func registerEventRoutes(mux *http.ServeMux, d Deps) {
	nodes := d.Manager.Nodes()

	// GET /api/events/dropped - events lost to a full channel
	mux.HandleFunc("GET /api/events/dropped", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"total":  nodes.DroppedTotal(),
			"recent": nodes.Dropped(),
		})
	})

	// GET /api/events/stream (Server-Sent Events) - tail only
	mux.HandleFunc("GET /api/events/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		guild := r.URL.Query().Get("guild")
		ch, cancel := d.Manager.Subscribe()
		defer cancel()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if guild != "" && msg.GuildID() != guild {
					continue
				}
				writeSSE(w, msg.Op, msg)
				flusher.Flush()
			}
		}
	})
}
