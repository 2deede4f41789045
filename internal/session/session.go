// Package session implements the Session/Player data model and the
// Redis-backed resumable-session store, the latter adapted from the
// same atomic allocate/release Lua-script idiom an RTP port allocator
// elsewhere in this codebase uses — here applied to "pool of resumable
// session slots" instead of "pool of UDP ports".
package session

import (
	"sync"

	"github.com/rustalink/server/internal/audio"
)

// Player is one guild's playback state: its current track, volume,
// pause state, and position.
type Player struct {
	mu sync.RWMutex

	GuildID    string
	Track      *audio.TrackInfo
	Paused     bool
	VolumePct  int
	Position   int64 // milliseconds
}

// NewPlayer constructs an idle Player for guildID.
func NewPlayer(guildID string) *Player {
	return &Player{GuildID: guildID, VolumePct: 100}
}

func (p *Player) SetTrack(t *audio.TrackInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Track = t
	p.Position = 0
}

func (p *Player) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Paused = paused
}

func (p *Player) SetVolume(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VolumePct = pct
}

func (p *Player) Snapshot() Player {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Player{GuildID: p.GuildID, Track: p.Track, Paused: p.Paused, VolumePct: p.VolumePct, Position: p.Position}
}

// Registry is the process-wide guild-id -> Player map, the Go
// equivalent of a sync.Map-backed call registry keyed by session id
// elsewhere in this codebase.
type Registry struct {
	players sync.Map // guildID -> *Player
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) GetOrCreate(guildID string) *Player {
	if v, ok := r.players.Load(guildID); ok {
		return v.(*Player)
	}
	p := NewPlayer(guildID)
	actual, _ := r.players.LoadOrStore(guildID, p)
	return actual.(*Player)
}

func (r *Registry) Get(guildID string) (*Player, bool) {
	v, ok := r.players.Load(guildID)
	if !ok {
		return nil, false
	}
	return v.(*Player), true
}

func (r *Registry) Delete(guildID string) {
	r.players.Delete(guildID)
}

func (r *Registry) All() []*Player {
	var out []*Player
	r.players.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Player))
		return true
	})
	return out
}

// Session is one client's control-channel session: its bound guild
// registry and the resume token it was issued.
type Session struct {
	ID        string
	UserID    string
	Registry  *Registry
	ResumeKey string // JWT resume token
}

func NewSession(id, userID string) *Session {
	return &Session{ID: id, UserID: userID, Registry: NewRegistry()}
}
