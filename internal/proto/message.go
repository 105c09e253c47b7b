package proto

import (
	"encoding/json"
	"fmt"
)

// Inbound op tags.
const (
	OpReady        = "ready"
	OpStats        = "stats"
	OpPlayerUpdate = "playerUpdate"
	OpEvent        = "event"
)

// Event types carried by OpEvent frames.
const (
	EventTrackStart      = "TrackStartEvent"
	EventTrackEnd        = "TrackEndEvent"
	EventTrackException  = "TrackExceptionEvent"
	EventTrackStuck      = "TrackStuckEvent"
	EventWebSocketClosed = "WebSocketClosedEvent"
)

type TrackEndReason string

const (
	EndFinished   TrackEndReason = "finished"
	EndLoadFailed TrackEndReason = "loadFailed"
	EndStopped    TrackEndReason = "stopped"
	EndReplaced   TrackEndReason = "replaced"
	EndCleanup    TrackEndReason = "cleanup"
)

// MayStartNext reports whether the next queued track should be started.
func (r TrackEndReason) MayStartNext() bool {
	return r == EndFinished || r == EndLoadFailed
}

type Ready struct {
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`
}

type Memory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type CPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

type Stats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         Memory      `json:"memory"`
	CPU            CPU         `json:"cpu"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`
}

type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int64 `json:"ping"`
}

type PlayerUpdate struct {
	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`
}

type Event struct {
	Type      string     `json:"type"`
	GuildID   string     `json:"guildId"`
	Track     *Track     `json:"track,omitempty"`
	Exception *Exception `json:"exception,omitempty"`

	// TrackEndEvent carries a TrackEndReason here, WebSocketClosedEvent a
	// free-form close reason.
	Reason string `json:"reason,omitempty"`

	ThresholdMs int64 `json:"thresholdMs,omitempty"`
	Code        int   `json:"code,omitempty"`
	ByRemote    bool  `json:"byRemote,omitempty"`
}

func (e Event) EndReason() TrackEndReason { return TrackEndReason(e.Reason) }

// Message is one decoded inbound frame. Exactly one payload pointer matching
// Op is set.
type Message struct {
	Op     string `json:"op"`
	NodeID string `json:"nodeId,omitempty"`

	Ready        *Ready        `json:"ready,omitempty"`
	Stats        *Stats        `json:"stats,omitempty"`
	PlayerUpdate *PlayerUpdate `json:"playerUpdate,omitempty"`
	Event        *Event        `json:"event,omitempty"`
}

// GuildID returns the guild a message refers to, or "" for node-level ops.
func (m Message) GuildID() string {
	switch {
	case m.PlayerUpdate != nil:
		return m.PlayerUpdate.GuildID
	case m.Event != nil:
		return m.Event.GuildID
	}
	return ""
}

// DecodeMessage parses a raw websocket frame. Unknown ops or event types
// are an error so the caller can drop the frame.
func DecodeMessage(nodeID string, b []byte) (Message, error) {
	var head struct {
		Op   string `json:"op"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}

	m := Message{Op: head.Op, NodeID: nodeID}
	var target any
	switch head.Op {
	case OpReady:
		m.Ready = &Ready{}
		target = m.Ready
	case OpStats:
		m.Stats = &Stats{}
		target = m.Stats
	case OpPlayerUpdate:
		m.PlayerUpdate = &PlayerUpdate{}
		target = m.PlayerUpdate
	case OpEvent:
		switch head.Type {
		case EventTrackStart, EventTrackEnd, EventTrackException, EventTrackStuck, EventWebSocketClosed:
		default:
			return Message{}, fmt.Errorf("decode frame: unknown event type %q", head.Type)
		}
		m.Event = &Event{}
		target = m.Event
	default:
		return Message{}, fmt.Errorf("decode frame: unknown op %q", head.Op)
	}
	if err := json.Unmarshal(b, target); err != nil {
		return Message{}, fmt.Errorf("decode %s frame: %w", head.Op, err)
	}
	return m, nil
}
