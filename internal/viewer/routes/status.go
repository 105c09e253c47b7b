// internal/viewer/routes/status.go

package routes

import (
	"net/http"

	"github.com/petervdpas/lavaman/internal/node"
)

func registerStatusRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		ready := 0
		nodes := d.Manager.Nodes().Nodes()
		for _, n := range nodes {
			if n.State() == node.Ready {
				ready++
			}
		}
		out := map[string]any{
			"version":    d.Version,
			"client":     d.Manager.Nodes().Identity().ClientName,
			"nodes":      len(nodes),
			"readyNodes": ready,
			"players":    len(d.Manager.Players()),
		}
		if d.Queues != nil {
			guilds, err := d.Queues.Guilds(r.Context())
			if err != nil {
				writeErr(w, err)
				return
			}
			out["storedQueues"] = len(guilds)
		}
		writeJSON(w, out)
	})
}
