// internal/app/helpers.go
package app

import (
	"strings"

	"github.com/petervdpas/lavaman/internal/config"
)

// NormalizeLocalViewer ensures the viewer only binds to localhost
// and returns listen addr, browser URL, and TCP check addr.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string, tcpAddr string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	listenAddr = a
	url = "http://" + a
	tcpAddr = a
	return
}

func logBanner(cfgPath string, cfg config.Config) {
	log.Info("────────────────────────────────────────")
	log.Infof(" Config file : %s", cfgPath)
	log.Infof(" Client      : %s (user %s)", cfg.Client.ClientName, cfg.Client.UserID)
	log.Infof(" Nodes       : %d", len(cfg.Nodes))
	log.Infof(" Storage     : %s", cfg.Storage.Kind)
	log.Info("────────────────────────────────────────")
}
