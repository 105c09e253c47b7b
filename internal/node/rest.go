package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/petervdpas/lavaman/internal/metrics"
	"github.com/petervdpas/lavaman/internal/proto"
)

const maxErrorBody = 1024

// do issues a single request against the node and decodes a JSON response
// into out when out is non-nil. There are no retries.
func (n *Node) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := n.RESTURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set(proto.HeaderAuthorization, n.opts.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := n.http.Do(req)
	metrics.RESTDuration.WithLabelValues(n.opts.ID, method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RESTRequests.WithLabelValues(n.opts.ID, method, "error").Inc()
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	metrics.RESTRequests.WithLabelValues(n.opts.ID, method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RESTError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if s, ok := out.(*string); ok {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s %s: read body: %w", method, path, err)
		}
		*s = strings.TrimSpace(string(b))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// sessionPath builds /v4/sessions/{sid}{suffix}. It fails with ErrNotReady
// before any network I/O when there is no session.
func (n *Node) sessionPath(suffix string) (string, error) {
	sid := n.SessionID()
	if sid == "" {
		return "", fmt.Errorf("node %s: %w", n.opts.ID, ErrNotReady)
	}
	return "/" + proto.APIVersion + "/sessions/" + url.PathEscape(sid) + suffix, nil
}

func playerPath(guildID string) string {
	return "/players/" + url.PathEscape(guildID)
}

func apiPath(p string) string { return "/" + proto.APIVersion + p }

// UpdatePlayer patches the player for guildID. With noReplace the node keeps
// an already playing track.
func (n *Node) UpdatePlayer(ctx context.Context, guildID string, noReplace bool, u proto.UpdatePlayer) (*proto.RemotePlayer, error) {
	p, err := n.sessionPath(playerPath(guildID))
	if err != nil {
		return nil, err
	}
	q := url.Values{"noReplace": {strconv.FormatBool(noReplace)}}
	var out proto.RemotePlayer
	if err := n.do(ctx, http.MethodPatch, p, q, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	p, err := n.sessionPath(playerPath(guildID))
	if err != nil {
		return err
	}
	return n.do(ctx, http.MethodDelete, p, nil, nil, nil)
}

func (n *Node) FetchPlayers(ctx context.Context) ([]proto.RemotePlayer, error) {
	p, err := n.sessionPath("/players")
	if err != nil {
		return nil, err
	}
	var out []proto.RemotePlayer
	if err := n.do(ctx, http.MethodGet, p, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Node) FetchPlayer(ctx context.Context, guildID string) (*proto.RemotePlayer, error) {
	p, err := n.sessionPath(playerPath(guildID))
	if err != nil {
		return nil, err
	}
	var out proto.RemotePlayer
	if err := n.do(ctx, http.MethodGet, p, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSession configures resuming for the current session. timeout is in
// seconds.
func (n *Node) UpdateSession(ctx context.Context, resuming bool, timeout int64) (*proto.Session, error) {
	p, err := n.sessionPath("")
	if err != nil {
		return nil, err
	}
	var out proto.Session
	body := proto.SessionUpdate{Resuming: &resuming, Timeout: &timeout}
	if err := n.do(ctx, http.MethodPatch, p, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadTracks resolves an identifier or a prefixed search query.
func (n *Node) LoadTracks(ctx context.Context, identifier string) (*proto.LoadResult, error) {
	var out proto.LoadResult
	q := url.Values{"identifier": {identifier}}
	if err := n.do(ctx, http.MethodGet, apiPath("/loadtracks"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (n *Node) DecodeTrack(ctx context.Context, encoded string) (*proto.Track, error) {
	var out proto.Track
	q := url.Values{"encodedTrack": {encoded}}
	if err := n.do(ctx, http.MethodGet, apiPath("/decodetrack"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (n *Node) DecodeTracks(ctx context.Context, encoded []string) ([]proto.Track, error) {
	var out []proto.Track
	if err := n.do(ctx, http.MethodPost, apiPath("/decodetracks"), nil, encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Node) FetchStats(ctx context.Context) (*proto.Stats, error) {
	var out proto.Stats
	if err := n.do(ctx, http.MethodGet, apiPath("/stats"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (n *Node) FetchInfo(ctx context.Context) (*proto.Info, error) {
	var out proto.Info
	if err := n.do(ctx, http.MethodGet, apiPath("/info"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchVersion returns the plain-text version string. It is not versioned
// under /v4.
func (n *Node) FetchVersion(ctx context.Context) (string, error) {
	var out string
	if err := n.do(ctx, http.MethodGet, "/version", nil, nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

func (n *Node) FetchConnectionMetrics(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := n.do(ctx, http.MethodGet, apiPath("/connection"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Lyrics fetches lyrics for an encoded track.
func (n *Node) Lyrics(ctx context.Context, encoded string, skipTrackSource bool) (*proto.Lyrics, error) {
	var out proto.Lyrics
	q := url.Values{"track": {encoded}, "skipTrackSource": {strconv.FormatBool(skipTrackSource)}}
	if err := n.do(ctx, http.MethodGet, apiPath("/lyrics"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentLyrics fetches lyrics for whatever the guild's player is playing.
func (n *Node) CurrentLyrics(ctx context.Context, guildID string, skipTrackSource bool) (*proto.Lyrics, error) {
	p, err := n.sessionPath(playerPath(guildID) + "/track/lyrics")
	if err != nil {
		return nil, err
	}
	var out proto.Lyrics
	q := url.Values{"skipTrackSource": {strconv.FormatBool(skipTrackSource)}}
	if err := n.do(ctx, http.MethodGet, p, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (n *Node) SubscribeLyrics(ctx context.Context, guildID string) error {
	p, err := n.sessionPath(playerPath(guildID) + "/lyrics/subscribe")
	if err != nil {
		return err
	}
	return n.do(ctx, http.MethodPost, p, nil, nil, nil)
}

func (n *Node) UnsubscribeLyrics(ctx context.Context, guildID string) error {
	p, err := n.sessionPath(playerPath(guildID) + "/lyrics/subscribe")
	if err != nil {
		return err
	}
	return n.do(ctx, http.MethodDelete, p, nil, nil, nil)
}

// mixerVolume renders a 0..1000 volume as the fraction string mixer
// endpoints expect.
func mixerVolume(v int) string {
	return strconv.FormatFloat(float64(proto.ClampVolume(v))/100, 'f', 2, 64)
}

type mixerBody struct {
	Track  *proto.UpdateTrack `json:"track,omitempty"`
	Volume string             `json:"volume"`
}

func (n *Node) AddMixerLayer(ctx context.Context, guildID string, t proto.Track, volume int) (*proto.MixerLayer, error) {
	p, err := n.sessionPath(playerPath(guildID) + "/mix")
	if err != nil {
		return nil, err
	}
	var out proto.MixerLayer
	body := mixerBody{Track: proto.EncodedTrack(t.Encoded, t.UserData), Volume: mixerVolume(volume)}
	if err := n.do(ctx, http.MethodPost, p, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (n *Node) ListMixerLayers(ctx context.Context, guildID string) ([]proto.MixerLayer, error) {
	p, err := n.sessionPath(playerPath(guildID) + "/mix")
	if err != nil {
		return nil, err
	}
	var out proto.MixerLayers
	if err := n.do(ctx, http.MethodGet, p, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Mixes, nil
}

func (n *Node) UpdateMixerLayerVolume(ctx context.Context, guildID, mixID string, volume int) error {
	p, err := n.sessionPath(playerPath(guildID) + "/mix/" + url.PathEscape(mixID))
	if err != nil {
		return err
	}
	return n.do(ctx, http.MethodPatch, p, nil, mixerBody{Volume: mixerVolume(volume)}, nil)
}

func (n *Node) RemoveMixerLayer(ctx context.Context, guildID, mixID string) error {
	p, err := n.sessionPath(playerPath(guildID) + "/mix/" + url.PathEscape(mixID))
	if err != nil {
		return err
	}
	return n.do(ctx, http.MethodDelete, p, nil, nil, nil)
}

func (n *Node) RoutePlannerStatus(ctx context.Context) (*proto.RoutePlannerStatus, error) {
	var out proto.RoutePlannerStatus
	if err := n.do(ctx, http.MethodGet, apiPath("/routeplanner/status"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (n *Node) FreeAddress(ctx context.Context, address string) error {
	body := map[string]string{"address": address}
	return n.do(ctx, http.MethodPost, apiPath("/routeplanner/free/address"), nil, body, nil)
}

func (n *Node) FreeAllAddresses(ctx context.Context) error {
	return n.do(ctx, http.MethodPost, apiPath("/routeplanner/free/all"), nil, nil, nil)
}
