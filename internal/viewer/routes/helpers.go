// internal/viewer/routes/helpers.go

package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/petervdpas/lavaman/internal/manager"
	"github.com/petervdpas/lavaman/internal/node"
	"github.com/petervdpas/lavaman/internal/player"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps domain errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var rerr *node.RESTError
	switch {
	case errors.Is(err, manager.ErrPlayerNotFound), errors.Is(err, node.ErrNodeNotFound):
		code = http.StatusNotFound
	case errors.Is(err, manager.ErrPlayerExists),
		errors.Is(err, player.ErrAlreadyPaused),
		errors.Is(err, player.ErrNotPaused),
		errors.Is(err, player.ErrNothingToPlay),
		errors.Is(err, player.ErrSkipEmpty),
		errors.Is(err, player.ErrSameNode),
		errors.Is(err, player.ErrMigrating),
		errors.Is(err, player.ErrDestroyed):
		code = http.StatusConflict
	case errors.Is(err, node.ErrNotReady), errors.Is(err, node.ErrNoNodes), errors.Is(err, player.ErrNodeNotReady):
		code = http.StatusServiceUnavailable
	case errors.As(err, &rerr):
		code = http.StatusBadGateway
	}
	http.Error(w, err.Error(), code)
}

// handlePost registers a JSON POST endpoint. An empty body decodes to the
// zero request.
func handlePost[T any](mux *http.ServeMux, pattern string, fn func(http.ResponseWriter, *http.Request, T)) {
	mux.HandleFunc("POST "+pattern, func(w http.ResponseWriter, r *http.Request) {
		var req T
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
		}
		fn(w, r, req)
	})
}

// playerFor resolves {guild} from the path.
func playerFor(d Deps, w http.ResponseWriter, r *http.Request) (*player.Player, bool) {
	guild := r.PathValue("guild")
	p, ok := d.Manager.GetPlayer(guild)
	if !ok {
		http.Error(w, "player not found", http.StatusNotFound)
		return nil, false
	}
	return p, true
}

// writeSSE writes one server-sent event.
func writeSSE(w http.ResponseWriter, event string, v any) {
	b, _ := json.Marshal(v)
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
}
