package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/petervdpas/lavaman/internal/proto"
	"github.com/petervdpas/lavaman/internal/queue"
)

var log = logging.Logger("lavaman/player")

var timeZero time.Time

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

var (
	ErrAlreadyPaused    = errors.New("player is already paused")
	ErrNotPaused        = errors.New("player is not paused")
	ErrNothingToPlay    = errors.New("there is no track in the queue nor in the play options")
	ErrSkipEmpty        = errors.New("can't skip more than the queue size")
	ErrSameNode         = errors.New("player is already on the provided node")
	ErrNodeNotReady     = errors.New("target node has no session")
	ErrMigrating        = errors.New("player is changing the node, please wait")
	ErrDestroyed        = errors.New("player is destroyed")
	ErrNoVoiceChannel   = errors.New("no voice channel has been set")
	ErrSameVoiceChannel = errors.New("new voice channel equals the current one")
)

// Control flags live in the data map under this prefix. They survive
// ClearData and are hidden from Data.
const InternalPrefix = "internal_"

const (
	KeyNodeChanging          = "internal_nodeChanging"
	KeyStopPlaying           = "internal_stopPlaying"
	KeyAutoplayStopPlaying   = "internal_autoplayStopPlaying"
	KeySkipped               = "internal_skipped"
	KeyQueueEmpty            = "internal_queueempty"
	KeyDestroyStatus         = "internal_destroystatus"
	KeyDestroyWithoutDiscard = "internal_destroywithoutdisconnect"
)

// Node is what a player needs from its audio node.
type Node interface {
	ID() string
	Connected() bool
	SessionID() string
	UpdatePlayer(ctx context.Context, guildID string, noReplace bool, u proto.UpdatePlayer) (*proto.RemotePlayer, error)
	DestroyPlayer(ctx context.Context, guildID string) error
	LoadTracks(ctx context.Context, identifier string) (*proto.LoadResult, error)
	CurrentLyrics(ctx context.Context, guildID string, skipTrackSource bool) (*proto.Lyrics, error)
}

type RepeatMode string

const (
	RepeatOff   RepeatMode = "off"
	RepeatTrack RepeatMode = "track"
	RepeatQueue RepeatMode = "queue"
)

type State string

const (
	Idle      State = "idle"
	Playing   State = "playing"
	Paused    State = "paused"
	Migrating State = "migrating"
	Destroyed State = "destroyed"
)

type Options struct {
	GuildID        string `json:"guildId"`
	VoiceChannelID string `json:"voiceChannelId"`
	TextChannelID  string `json:"textChannelId,omitempty"`
	SelfMute       bool   `json:"selfMute"`
	SelfDeaf       bool   `json:"selfDeaf"`

	// Volume defaults to proto.DefaultVolume when nil.
	Volume *int `json:"volume,omitempty"`

	// Node requests a specific node id instead of the least used one.
	Node string `json:"node,omitempty"`
}

// Config is manager-wide behaviour injected into every player.
type Config struct {
	// AutoSkip starts the next queued track when one finishes.
	AutoSkip bool

	// SearchPlatform prefixes plain-text searches, e.g. "ytsearch" or an
	// alias from Platforms such as "youtube".
	SearchPlatform string

	// DefaultVolume applies when Options.Volume is nil. 0 means
	// proto.DefaultVolume.
	DefaultVolume int

	// Platforms maps aliases to search prefixes. Defaults to
	// proto.DefaultPlatforms.
	Platforms map[string]string

	// Clock drives position extrapolation. Defaults to time.Now.
	Clock func() time.Time

	// SendVoiceState forwards a voice channel change to the chat gateway.
	// Nil means voice signalling is handled elsewhere.
	SendVoiceState func(guildID, channelID string, selfMute, selfDeaf bool) error

	// OnQueueEmpty runs after the last queued track ended, with the track
	// that ended last (nil when there was none).
	OnQueueEmpty func(ctx context.Context, p *Player, last *proto.Track)
}

type Ping struct {
	WS   time.Duration `json:"ws"`
	REST time.Duration `json:"rest"`
}

// Player is the playback state machine of one guild. It is a shared handle:
// all methods are safe for concurrent use and commands are serialized.
type Player struct {
	guildID string
	queue   *queue.Queue
	cfg     Config
	now     func() time.Time
	created time.Time

	inbox chan proto.Message
	stop  chan struct{}
	once  sync.Once

	cmdMu sync.Mutex

	mu                 sync.RWMutex
	node               Node
	voiceChannelID     string
	textChannelID      string
	selfMute, selfDeaf bool
	voiceConnected     bool
	voice              *proto.VoiceState
	playing, paused    bool
	destroyed          bool
	repeat             RepeatMode
	volume             int
	lastPosition       int64
	lastPositionChange time.Time
	ping               Ping
	data               map[string]any
}

func New(opts Options, n Node, q *queue.Queue, cfg Config) *Player {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Platforms == nil {
		cfg.Platforms = proto.DefaultPlatforms()
	}
	if cfg.SearchPlatform == "" {
		cfg.SearchPlatform = proto.DefaultSearchPlatform
	}
	cfg.SearchPlatform = PlatformPrefix(cfg.Platforms, cfg.SearchPlatform)
	vol := proto.DefaultVolume
	if cfg.DefaultVolume > 0 {
		vol = proto.ClampVolume(cfg.DefaultVolume)
	}
	if opts.Volume != nil {
		vol = proto.ClampVolume(*opts.Volume)
	}
	return &Player{
		guildID:        opts.GuildID,
		queue:          q,
		cfg:            cfg,
		now:            cfg.Clock,
		created:        cfg.Clock(),
		inbox:          make(chan proto.Message, 64),
		stop:           make(chan struct{}),
		node:           n,
		voiceChannelID: opts.VoiceChannelID,
		textChannelID:  opts.TextChannelID,
		selfMute:       opts.SelfMute,
		selfDeaf:       opts.SelfDeaf,
		repeat:         RepeatOff,
		volume:         vol,
		data:           make(map[string]any),
	}
}

// PlatformPrefix resolves a platform alias to its search prefix. Unknown
// names are used as given.
func PlatformPrefix(platforms map[string]string, name string) string {
	if prefix, ok := platforms[strings.ToLower(name)]; ok {
		return prefix
	}
	return name
}

func (p *Player) GuildID() string { return p.guildID }

// Stop ends Run without touching the node. The player stays usable for
// direct calls but no longer receives delivered messages.
func (p *Player) Stop() {
	p.once.Do(func() { close(p.stop) })
}

func (p *Player) Queue() *queue.Queue { return p.queue }

func (p *Player) Node() Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.node
}

func (p *Player) NodeID() string { return p.Node().ID() }

func (p *Player) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.destroyed:
		return Destroyed
	case p.data[KeyNodeChanging] != nil:
		return Migrating
	case p.paused:
		return Paused
	case p.playing:
		return Playing
	}
	return Idle
}

func (p *Player) Playing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playing
}

func (p *Player) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

func (p *Player) Volume() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.volume
}

func (p *Player) RepeatMode() RepeatMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.repeat
}

func (p *Player) Ping() Ping {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ping
}

func (p *Player) VoiceChannelID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.voiceChannelID
}

// Position is the extrapolated playback position in ms. It never does I/O.
func (p *Player) Position() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionLocked()
}

func (p *Player) positionLocked() int64 {
	pos := p.lastPosition
	if p.playing && !p.paused && !p.lastPositionChange.IsZero() {
		if d := p.now().Sub(p.lastPositionChange); d > 0 {
			pos += d.Milliseconds()
		}
	}
	if pos < 0 {
		return 0
	}
	return pos
}

// anchorLocked resets the extrapolation base to pos at the current time.
func (p *Player) anchorLocked(pos int64) {
	if pos < 0 {
		pos = 0
	}
	p.lastPosition = pos
	p.lastPositionChange = p.now()
}

func (p *Player) Set(key string, value any) {
	p.mu.Lock()
	p.data[key] = value
	p.mu.Unlock()
}

func (p *Player) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.data[key]
	return v, ok
}

func (p *Player) unset(keys ...string) {
	p.mu.Lock()
	for _, k := range keys {
		delete(p.data, k)
	}
	p.mu.Unlock()
}

// takeFlag reports whether key was set and clears it.
func (p *Player) takeFlag(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.data[key]
	delete(p.data, key)
	return ok
}

// ClearData drops every user key; control flags stay.
func (p *Player) ClearData() {
	p.mu.Lock()
	for k := range p.data {
		if !strings.HasPrefix(k, InternalPrefix) {
			delete(p.data, k)
		}
	}
	p.mu.Unlock()
}

// Data returns the user keys only.
func (p *Player) Data() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.data))
	for k, v := range p.data {
		if !strings.HasPrefix(k, InternalPrefix) {
			out[k] = v
		}
	}
	return out
}

// checkLocked rejects commands on destroyed or migrating players.
func (p *Player) checkLocked() error {
	if p.destroyed {
		return ErrDestroyed
	}
	if p.data[KeyNodeChanging] != nil {
		return ErrMigrating
	}
	return nil
}

func (p *Player) check() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkLocked()
}

// begin serializes a command. The state check runs before and after
// taking the command lock so a migration that started meanwhile still
// rejects it.
func (p *Player) begin() (func(), error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	p.cmdMu.Lock()
	if err := p.check(); err != nil {
		p.cmdMu.Unlock()
		return nil, err
	}
	return p.cmdMu.Unlock, nil
}

// update sends u to the current node and records the round trip.
func (p *Player) update(ctx context.Context, noReplace bool, u proto.UpdatePlayer) error {
	n := p.Node()
	start := time.Now()
	if _, err := n.UpdatePlayer(ctx, p.guildID, noReplace, u); err != nil {
		return err
	}
	p.mu.Lock()
	p.ping.REST = time.Since(start)
	p.mu.Unlock()
	return nil
}

// Snapshot is a JSON view of the player.
type Snapshot struct {
	GuildID        string         `json:"guildId"`
	NodeID         string         `json:"nodeId"`
	State          State          `json:"state"`
	VoiceChannelID string         `json:"voiceChannelId,omitempty"`
	TextChannelID  string         `json:"textChannelId,omitempty"`
	Position       int64          `json:"position"`
	LastPosition   int64          `json:"lastPosition"`
	Volume         int            `json:"volume"`
	RepeatMode     RepeatMode     `json:"repeatMode"`
	Playing        bool           `json:"playing"`
	Paused         bool           `json:"paused"`
	Connected      bool           `json:"connected"`
	Ping           Ping           `json:"ping"`
	CreatedAt      time.Time      `json:"createdAt"`
	Data           map[string]any `json:"data,omitempty"`
	Queue          queue.Snapshot `json:"queue"`
}

func (p *Player) Snapshot() Snapshot {
	st := p.State()
	data := p.Data()
	q := p.queue.Snapshot()

	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		GuildID:        p.guildID,
		NodeID:         p.node.ID(),
		State:          st,
		VoiceChannelID: p.voiceChannelID,
		TextChannelID:  p.textChannelID,
		Position:       p.positionLocked(),
		LastPosition:   p.lastPosition,
		Volume:         p.volume,
		RepeatMode:     p.repeat,
		Playing:        p.playing,
		Paused:         p.paused,
		Connected:      p.voiceConnected,
		Ping:           p.ping,
		CreatedAt:      p.created,
		Data:           data,
		Queue:          q,
	}
}
