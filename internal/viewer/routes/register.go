// internal/viewer/routes/register.go

package routes

import (
	"context"
	"net/http"

	"github.com/petervdpas/lavaman/internal/manager"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Logs is the log buffer surface the routes need.
type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// QueueIndex lists the guilds with a stored queue.
type QueueIndex interface {
	Guilds(ctx context.Context) ([]string, error)
}

type Deps struct {
	Manager *manager.Manager
	Logs    Logs
	Queues  QueueIndex

	// LogLevel is the level Logs captures at.
	LogLevel string

	// Version is reported by /api/status.
	Version string
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)
	registerStatusRoutes(mux, d)
	registerNodeRoutes(mux, d)
	registerPlayerRoutes(mux, d)
	registerEventRoutes(mux, d)

	mux.Handle("GET /metrics", promhttp.Handler())
}
