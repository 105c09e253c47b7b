// internal/viewer/routes/nodes.go

package routes

import (
	"net/http"

	"github.com/petervdpas/lavaman/internal/node"
	"github.com/petervdpas/lavaman/internal/proto"
)

type nodeView struct {
	ID        string       `json:"id"`
	Address   string       `json:"address"`
	State     node.State   `json:"state"`
	SessionID string       `json:"sessionId,omitempty"`
	Players   int          `json:"players"`
	Stats     *proto.Stats `json:"stats,omitempty"`
}

func viewNode(n *node.Node) nodeView {
	return nodeView{
		ID:        n.ID(),
		Address:   n.RESTURL(),
		State:     n.State(),
		SessionID: n.SessionID(),
		Players:   n.PlayerCount(),
		Stats:     n.Stats(),
	}
}

func registerNodeRoutes(mux *http.ServeMux, d Deps) {
	nodes := d.Manager.Nodes()

	mux.HandleFunc("GET /api/nodes", func(w http.ResponseWriter, r *http.Request) {
		out := []nodeView{}
		for _, n := range nodes.Nodes() {
			out = append(out, viewNode(n))
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("GET /api/nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		n, ok := nodes.Node(r.PathValue("id"))
		if !ok {
			http.Error(w, "node not found", http.StatusNotFound)
			return
		}
		writeJSON(w, viewNode(n))
	})

	// POST /api/nodes/{id}/reconnect - explicit reconnect of a dropped node
	handlePost(mux, "/api/nodes/{id}/reconnect", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := nodes.Reconnect(r.Context(), r.PathValue("id")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "connected"})
	})

	// POST /api/nodes/{id}/drain - move every player off the node
	handlePost(mux, "/api/nodes/{id}/drain", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := d.Manager.MoveNodePlayers(r.Context(), r.PathValue("id")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "drained"})
	})
}
