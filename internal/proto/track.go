package proto

import (
	"bytes"
	"encoding/json"
)

type TrackInfo struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Length     int64  `json:"length"` // ms
	ArtworkURL string `json:"artworkUrl,omitempty"`
	URI        string `json:"uri,omitempty"`
	SourceName string `json:"sourceName"`
	IsSeekable bool   `json:"isSeekable"`
	IsStream   bool   `json:"isStream"`
	ISRC       string `json:"isrc,omitempty"`
	Position   int64  `json:"position,omitempty"`
}

// Track is a playable track as returned by the node.
type Track struct {
	Encoded    string          `json:"encoded"`
	Info       TrackInfo       `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
	Requester  json.RawMessage `json:"requester,omitempty"`
}

type UnresolvedInfo struct {
	Title      string `json:"title"`
	Author     string `json:"author,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
	URI        string `json:"uri,omitempty"`
	SourceName string `json:"sourceName,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
}

// UnresolvedTrack carries descriptive metadata only. It has to be resolved
// through a search before a node can play it.
type UnresolvedTrack struct {
	Encoded    string          `json:"encoded,omitempty"`
	Info       UnresolvedInfo  `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
	Requester  json.RawMessage `json:"requester,omitempty"`
}

// QueueTrack is either a resolved Track or an UnresolvedTrack. Exactly one
// of the two pointers is set.
type QueueTrack struct {
	Resolved   *Track
	Unresolved *UnresolvedTrack
}

func Resolved(t Track) QueueTrack { return QueueTrack{Resolved: &t} }

func Unresolved(t UnresolvedTrack) QueueTrack { return QueueTrack{Unresolved: &t} }

func (q QueueTrack) IsResolved() bool { return q.Resolved != nil }

// Title returns the display title regardless of resolution state.
func (q QueueTrack) Title() string {
	switch {
	case q.Resolved != nil:
		return q.Resolved.Info.Title
	case q.Unresolved != nil:
		return q.Unresolved.Info.Title
	}
	return ""
}

// Duration is the known length in ms. Unresolved tracks report 0.
func (q QueueTrack) Duration() int64 {
	if q.Resolved != nil {
		return q.Resolved.Info.Length
	}
	return 0
}

func (q QueueTrack) MarshalJSON() ([]byte, error) {
	switch {
	case q.Resolved != nil:
		return json.Marshal(q.Resolved)
	case q.Unresolved != nil:
		return json.Marshal(q.Unresolved)
	}
	return []byte("null"), nil
}

// UnmarshalJSON treats any entry whose info carries an identifier as resolved.
func (q *QueueTrack) UnmarshalJSON(b []byte) error {
	*q = QueueTrack{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var probe struct {
		Info struct {
			Identifier string `json:"identifier"`
		} `json:"info"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if probe.Info.Identifier != "" {
		var t Track
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}
		q.Resolved = &t
		return nil
	}
	var u UnresolvedTrack
	if err := json.Unmarshal(b, &u); err != nil {
		return err
	}
	q.Unresolved = &u
	return nil
}

// Load types reported by /loadtracks.
const (
	LoadTrack    = "track"
	LoadPlaylist = "playlist"
	LoadSearch   = "search"
	LoadEmpty    = "empty"
	LoadError    = "error"
)

type LoadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

type Playlist struct {
	Info       PlaylistInfo    `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	Tracks     []Track         `json:"tracks"`
}

type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// Tracks flattens the result into a track list for every load type.
func (r LoadResult) Tracks() []Track {
	switch r.LoadType {
	case LoadTrack:
		var t Track
		if json.Unmarshal(r.Data, &t) == nil {
			return []Track{t}
		}
	case LoadSearch:
		var ts []Track
		if json.Unmarshal(r.Data, &ts) == nil {
			return ts
		}
	case LoadPlaylist:
		if p := r.Playlist(); p != nil {
			return p.Tracks
		}
	}
	return nil
}

func (r LoadResult) Playlist() *Playlist {
	if r.LoadType != LoadPlaylist {
		return nil
	}
	var p Playlist
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return nil
	}
	return &p
}

func (r LoadResult) Exception() *Exception {
	if r.LoadType != LoadError {
		return nil
	}
	var e Exception
	if err := json.Unmarshal(r.Data, &e); err != nil {
		return nil
	}
	return &e
}
