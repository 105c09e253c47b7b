package node

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady      = errors.New("node is not ready: no session id")
	ErrNotConnected  = errors.New("node is not connected")
	ErrDuplicateNode = errors.New("node already exists")
	ErrNodeNotFound  = errors.New("node not found")
	ErrNoNodes       = errors.New("no available node")
	ErrConnecting    = errors.New("node is already connecting")
)

// RESTError is returned for any non-2xx response from a node.
type RESTError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RESTError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}
