package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Common timeout durations
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	ShortTimeout          = 2 * time.Second
)

// ResolvePath joins base and rel, but if rel is an absolute path it is returned
// directly (cleaned). filepath.Join("a", "/b") returns "a/b", this returns "/b".
func ResolvePath(base, rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(base, rel)
}

// WriteJSONFile writes a JSON object to a file, creating parent directories if needed.
func WriteJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// NodeURL is the parsed form of lavalink://<id>:<password>@<host>:<port>.
type NodeURL struct {
	ID       string
	Password string
	Host     string
	Port     int
}

// ParseNodeURL parses a node connection URL. The port defaults to 80.
func ParseNodeURL(raw string) (NodeURL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "lavalink://") {
		return NodeURL{}, errors.New("node url must start with lavalink://")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return NodeURL{}, fmt.Errorf("invalid node url: %w", err)
	}
	if u.User == nil || u.User.Username() == "" {
		return NodeURL{}, errors.New("node url is missing the node id")
	}
	pw, ok := u.User.Password()
	if !ok || pw == "" {
		return NodeURL{}, errors.New("node url is missing the password")
	}
	host := u.Hostname()
	if host == "" {
		return NodeURL{}, errors.New("node url is missing the host")
	}
	port := 80
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return NodeURL{}, errors.New("node url has an invalid port")
		}
		port = n
	}
	return NodeURL{ID: u.User.Username(), Password: pw, Host: host, Port: port}, nil
}
