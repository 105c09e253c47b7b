// internal/viewer/routes/players.go

package routes

import (
	"net/http"

	"github.com/petervdpas/lavaman/internal/player"
	"github.com/petervdpas/lavaman/internal/proto"
)

func registerPlayerRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("GET /api/players", func(w http.ResponseWriter, r *http.Request) {
		out := []player.Snapshot{}
		for _, p := range d.Manager.Players() {
			out = append(out, p.Snapshot())
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("GET /api/players/{guild}", func(w http.ResponseWriter, r *http.Request) {
		p, ok := playerFor(d, w, r)
		if !ok {
			return
		}
		writeJSON(w, p.Snapshot())
	})

	// POST /api/players - create a player for a guild
	handlePost(mux, "/api/players", func(w http.ResponseWriter, r *http.Request, req player.Options) {
		if req.GuildID == "" {
			http.Error(w, "missing guildId", http.StatusBadRequest)
			return
		}
		p, err := d.Manager.CreatePlayer(r.Context(), req)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, p.Snapshot())
	})

	mux.HandleFunc("DELETE /api/players/{guild}", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Manager.DestroyPlayer(r.Context(), r.PathValue("guild"), true); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// POST /api/players/{guild}/queue - search and enqueue the first hit,
	// or every track of a playlist
	handlePost(mux, "/api/players/{guild}/queue", func(w http.ResponseWriter, r *http.Request, req struct {
		Query string `json:"query"`
		Index *int   `json:"index"`
	}) {
		p, ok := playerFor(d, w, r)
		if !ok {
			return
		}
		if req.Query == "" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}
		res, err := p.Search(r.Context(), req.Query)
		if err != nil {
			writeErr(w, err)
			return
		}
		tracks := res.Tracks()
		if len(tracks) == 0 {
			http.Error(w, "no results", http.StatusNotFound)
			return
		}
		if res.LoadType != proto.LoadPlaylist {
			tracks = tracks[:1]
		}
		add := make([]proto.QueueTrack, 0, len(tracks))
		for _, t := range tracks {
			add = append(add, proto.Resolved(t))
		}
		index := -1
		if req.Index != nil {
			index = *req.Index
		}
		n, err := p.Queue().Add(r.Context(), add, index)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]int{"added": len(add), "length": n})
	})

	handlePost(mux, "/api/players/{guild}/play", func(w http.ResponseWriter, r *http.Request, req struct {
		Encoded    *string `json:"encoded"`
		Identifier string  `json:"identifier"`
		Position   *int64  `json:"position"`
		Volume     *int    `json:"volume"`
		Paused     *bool   `json:"paused"`
	}) {
		opts := player.PlayOptions{Position: req.Position, Volume: req.Volume, Paused: req.Paused}
		if req.Encoded != nil || req.Identifier != "" {
			opts.Track = &proto.UpdateTrack{Encoded: req.Encoded, Identifier: req.Identifier}
		}
		command(d, w, r, func(p *player.Player) error { return p.Play(r.Context(), opts) })
	})

	handlePost(mux, "/api/players/{guild}/pause", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		command(d, w, r, func(p *player.Player) error { return p.Pause(r.Context()) })
	})

	handlePost(mux, "/api/players/{guild}/resume", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		command(d, w, r, func(p *player.Player) error { return p.Resume(r.Context()) })
	})

	handlePost(mux, "/api/players/{guild}/seek", func(w http.ResponseWriter, r *http.Request, req struct {
		Position int64 `json:"position"`
	}) {
		command(d, w, r, func(p *player.Player) error { return p.Seek(r.Context(), req.Position) })
	})

	handlePost(mux, "/api/players/{guild}/volume", func(w http.ResponseWriter, r *http.Request, req struct {
		Volume int `json:"volume"`
	}) {
		command(d, w, r, func(p *player.Player) error { return p.SetVolume(r.Context(), req.Volume) })
	})

	handlePost(mux, "/api/players/{guild}/skip", func(w http.ResponseWriter, r *http.Request, req struct {
		To    int  `json:"to"`
		Throw bool `json:"throw"`
	}) {
		command(d, w, r, func(p *player.Player) error { return p.Skip(r.Context(), req.To, req.Throw) })
	})

	handlePost(mux, "/api/players/{guild}/stop", func(w http.ResponseWriter, r *http.Request, req struct {
		ClearQueue bool `json:"clearQueue"`
		Autoplay   bool `json:"autoplay"`
	}) {
		command(d, w, r, func(p *player.Player) error { return p.StopPlaying(r.Context(), req.ClearQueue, req.Autoplay) })
	})

	handlePost(mux, "/api/players/{guild}/repeat", func(w http.ResponseWriter, r *http.Request, req struct {
		Mode player.RepeatMode `json:"mode"`
	}) {
		command(d, w, r, func(p *player.Player) error { return p.SetRepeatMode(req.Mode) })
	})

	handlePost(mux, "/api/players/{guild}/shuffle", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		command(d, w, r, func(p *player.Player) error {
			_, err := p.Queue().Shuffle(r.Context())
			return err
		})
	})

	handlePost(mux, "/api/players/{guild}/node", func(w http.ResponseWriter, r *http.Request, req struct {
		Node string `json:"node"`
	}) {
		if err := d.Manager.ChangeNode(r.Context(), r.PathValue("guild"), req.Node); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "moved"})
	})

	mux.HandleFunc("GET /api/players/{guild}/lyrics", func(w http.ResponseWriter, r *http.Request) {
		p, ok := playerFor(d, w, r)
		if !ok {
			return
		}
		l, err := p.Lyrics(r.Context(), r.URL.Query().Get("skipTrackSource") == "true")
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, l)
	})
}

// command runs fn on the path's player and answers with its new snapshot.
func command(d Deps, w http.ResponseWriter, r *http.Request, fn func(*player.Player) error) {
	p, ok := playerFor(d, w, r)
	if !ok {
		return
	}
	if err := fn(p); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, p.Snapshot())
}
