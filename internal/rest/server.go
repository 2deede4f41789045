// Package rest implements the REST control surface, grouped the way
// router/*.go's `*ApiRoute(cfg, engine, logger, ...)` functions group
// gin endpoints elsewhere in this codebase, generalized from "register
// a gRPC service" to "register a resource's CRUD handlers".
package rest

import (
	"sync"
	"time"

	"github.com/rustalink/server/internal/config"
	"github.com/rustalink/server/internal/player"
	"github.com/rustalink/server/internal/plugins"
	"github.com/rustalink/server/internal/resolve"
	"github.com/rustalink/server/internal/routeplanner"
	"github.com/rustalink/server/internal/session"
	"github.com/rustalink/server/internal/voice/gateway"
	"github.com/rustalink/server/pkg/commons"
)

// Server holds every dependency the REST handlers need.
type Server struct {
	cfg       *config.AppConfig
	logger    commons.Logger
	resolvers *resolve.Registry
	resolverTags []string
	plugins   *plugins.Loader
	manager   *player.Manager
	store     *session.Store
	planner   *routeplanner.Planner
	startedAt time.Time

	mu          sync.Mutex
	registries  map[string]*session.Registry
	transports  map[string]player.Transport
	gateways    map[string]*gateway.Gateway
}

// NewServer wires a Server from its component pieces; transports are
// registered separately as voice links are established (see
// BindTransport), since they only exist once a guild's VoiceGateway
// handshake completes.
func NewServer(
	cfg *config.AppConfig,
	logger commons.Logger,
	resolvers *resolve.Registry,
	resolverTags []string,
	loader *plugins.Loader,
	manager *player.Manager,
	store *session.Store,
	planner *routeplanner.Planner,
) *Server {
	return &Server{
		cfg:          cfg,
		logger:       logger,
		resolvers:    resolvers,
		resolverTags: resolverTags,
		plugins:      loader,
		manager:      manager,
		store:        store,
		planner:      planner,
		startedAt:    time.Now(),
		registries:   make(map[string]*session.Registry),
		transports:   make(map[string]player.Transport),
		gateways:     make(map[string]*gateway.Gateway),
	}
}

// RegistryFor returns (creating if necessary) the guild-player
// registry bound to a control-plane session id. Exported so the
// WebSocket control channel shares the same registries as REST.
func (s *Server) RegistryFor(sessionID string) *session.Registry {
	return s.registryFor(sessionID)
}

// Manager exposes the player.Manager backing this server, so the
// WebSocket control channel can drive playback without duplicating it.
func (s *Server) Manager() *player.Manager { return s.manager }

// Store exposes the session.Store backing this server, so the
// WebSocket control channel can claim/resume sessions the same way
// REST clients do.
func (s *Server) Store() *session.Store { return s.store }

// registryFor returns (creating if necessary) the guild-player
// registry bound to a control-plane session id.
func (s *Server) registryFor(sessionID string) *session.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registries[sessionID]
	if !ok {
		reg = session.NewRegistry()
		s.registries[sessionID] = reg
	}
	return reg
}

// PlayerCounts reports how many players exist across every session's
// registry, and how many of those are actively playing (not paused).
// Shared by the /v4/stats handler and the WebSocket stats broadcast so
// both report the same numbers.
func (s *Server) PlayerCounts() (players, playing int) {
	for _, reg := range s.allRegistries() {
		for _, p := range reg.All() {
			players++
			if !p.Snapshot().Paused {
				playing++
			}
		}
	}
	return players, playing
}

func (s *Server) allRegistries() []*session.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Registry, 0, len(s.registries))
	for _, reg := range s.registries {
		out = append(out, reg)
	}
	return out
}

// BindTransport associates guildID with the voice link its
// VoiceGateway/UdpLink handshake produced, so a later player-update
// PATCH has somewhere to send Opus packets.
func (s *Server) BindTransport(guildID string, transport player.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[guildID] = transport
}

// UnbindTransport removes guildID's voice link, e.g. on disconnect.
func (s *Server) UnbindTransport(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transports, guildID)
}

func (s *Server) transportFor(guildID string) player.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transports[guildID]
}

// TransportFor exposes transportFor to other control-surface packages
// (the WebSocket channel checks it before issuing playback commands).
func (s *Server) TransportFor(guildID string) player.Transport {
	return s.transportFor(guildID)
}

// BindGateway associates guildID with the VoiceGateway driving its
// handshake/heartbeat, so RTT can be read back for playerUpdate events.
func (s *Server) BindGateway(guildID string, g *gateway.Gateway) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateways[guildID] = g
}

// UnbindGateway removes guildID's VoiceGateway binding.
func (s *Server) UnbindGateway(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gateways, guildID)
}

// GatewayFor returns guildID's bound VoiceGateway, or nil if none is
// established.
func (s *Server) GatewayFor(guildID string) *gateway.Gateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateways[guildID]
}
