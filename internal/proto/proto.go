package proto

import "time"

const (
	APIVersion = "v4"

	// WebSocketPath is the node endpoint that carries op-tagged frames.
	WebSocketPath = "/" + APIVersion + "/websocket"

	DefaultClientName     = "lavalink-client-rs"
	DefaultSearchPlatform = "ytsearch"
)

// Request headers sent on the websocket handshake and REST calls.
const (
	HeaderAuthorization = "Authorization"
	HeaderUserID        = "User-Id"
	HeaderClientName    = "Client-Name"
	HeaderSessionID     = "Session-Id"
)

const (
	MinVolume     = 0
	MaxVolume     = 1000
	DefaultVolume = 100
)

func NowMillis() int64 { return time.Now().UnixMilli() }

// ClampVolume bounds v to MinVolume..MaxVolume.
func ClampVolume(v int) int {
	if v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// DefaultPlatforms maps friendly source names to search prefixes. It
// returns a fresh map so callers can extend it from configuration.
func DefaultPlatforms() map[string]string {
	return map[string]string{
		"youtube":      "ytsearch",
		"yt":           "ytsearch",
		"youtubemusic": "ytmsearch",
		"ytm":          "ytmsearch",
		"soundcloud":   "scsearch",
		"sc":           "scsearch",
		"spotify":      "spsearch",
		"sp":           "spsearch",
		"deezer":       "dzsearch",
		"dz":           "dzsearch",
		"applemusic":   "amsearch",
		"am":           "amsearch",
		"yandexmusic":  "ymsearch",
		"bandcamp":     "bcsearch",
		"bc":           "bcsearch",
		"jiosaavn":     "jssearch",
		"flowerytts":   "ftts",
		"speak":        "speak",
		"tts":          "tts",
	}
}
