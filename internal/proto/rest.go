package proto

import "encoding/json"

// UpdateTrack selects what the node should play. A zero UpdateTrack sends
// an explicit null encoded track, which stops playback.
type UpdateTrack struct {
	Encoded    *string         `json:"encoded,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
}

// StopTrack returns an UpdateTrack that clears the node's current track.
func StopTrack() *UpdateTrack { return &UpdateTrack{} }

func (t UpdateTrack) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if t.Encoded != nil {
		m["encoded"] = *t.Encoded
	} else if t.Identifier == "" {
		m["encoded"] = nil
	}
	if t.Identifier != "" {
		m["identifier"] = t.Identifier
	}
	if len(t.UserData) > 0 {
		m["userData"] = t.UserData
	}
	return json.Marshal(m)
}

func EncodedTrack(encoded string, userData json.RawMessage) *UpdateTrack {
	return &UpdateTrack{Encoded: &encoded, UserData: userData}
}

type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
	Connected bool   `json:"connected,omitempty"`
	Ping      int64  `json:"ping,omitempty"`
}

// UpdatePlayer is the PATCH body for a session player. Nil fields are left
// untouched by the node.
type UpdatePlayer struct {
	Track    *UpdateTrack    `json:"track,omitempty"`
	Position *int64          `json:"position,omitempty"`
	EndTime  *int64          `json:"endTime,omitempty"`
	Volume   *int            `json:"volume,omitempty"`
	Paused   *bool           `json:"paused,omitempty"`
	Filters  json.RawMessage `json:"filters,omitempty"`
	Voice    *VoiceState     `json:"voice,omitempty"`
}

// RemotePlayer is the node's view of a player.
type RemotePlayer struct {
	GuildID string          `json:"guildId"`
	Track   *Track          `json:"track"`
	Volume  int             `json:"volume"`
	Paused  bool            `json:"paused"`
	State   PlayerState     `json:"state"`
	Voice   VoiceState      `json:"voice"`
	Filters json.RawMessage `json:"filters,omitempty"`
}

type SessionUpdate struct {
	Resuming *bool  `json:"resuming,omitempty"`
	Timeout  *int64 `json:"timeout,omitempty"`
}

type Session struct {
	Resuming bool  `json:"resuming"`
	Timeout  int64 `json:"timeout"`
}

type Version struct {
	Semver string `json:"semver"`
	Major  int    `json:"major"`
	Minor  int    `json:"minor"`
	Patch  int    `json:"patch"`
}

type Plugin struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Info struct {
	Version        Version  `json:"version"`
	BuildTime      int64    `json:"buildTime"`
	JVM            string   `json:"jvm"`
	Lavaplayer     string   `json:"lavaplayer"`
	SourceManagers []string `json:"sourceManagers"`
	Filters        []string `json:"filters"`
	Plugins        []Plugin `json:"plugins"`
}

type LyricsLine struct {
	Timestamp int64  `json:"timestamp"`
	Duration  int64  `json:"duration"`
	Line      string `json:"line"`
}

type Lyrics struct {
	SourceName string          `json:"sourceName"`
	Provider   string          `json:"provider"`
	Text       string          `json:"text,omitempty"`
	Lines      []LyricsLine    `json:"lines"`
	PluginInfo json.RawMessage `json:"plugin,omitempty"`
}

type MixerLayer struct {
	ID       string  `json:"id"`
	Track    Track   `json:"track"`
	Volume   float64 `json:"volume"`
	Position int64   `json:"position,omitempty"`
}

type MixerLayers struct {
	Mixes []MixerLayer `json:"mixes"`
}

type RoutePlannerStatus struct {
	Class   string          `json:"class"`
	Details json.RawMessage `json:"details"`
}
