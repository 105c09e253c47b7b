// internal/viewer/routes/api_logs.go

package routes

import "net/http"

func registerAPILogRoutes(mux *http.ServeMux, d Deps) {
	if d.Logs == nil {
		return
	}
	mux.HandleFunc("GET /api/logs", d.Logs.ServeLogsJSON)
	mux.HandleFunc("GET /api/logs/stream", d.Logs.ServeLogsSSE)

	// GET /api/logs/level - the level the buffer captures at
	mux.HandleFunc("GET /api/logs/level", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"level": d.LogLevel})
	})
}
