// Package ws implements the WebSocket control channel: a gorilla/websocket
// upgrade on "/" that binds or resumes a session from the user-id/session-id
// headers, decodes voiceUpdate/play/stop/destroy ops, and funnels every
// outbound ready/playerUpdate/stats/event message through a single writer
// goroutine per connection — the same single-sender discipline a WebRTC
// streamer elsewhere in this codebase applies to its own output channel,
// generalized from "one WebRTC peer" to "one control-channel client".
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rustalink/server/internal/player"
	"github.com/rustalink/server/internal/rest"
	"github.com/rustalink/server/internal/session"
	"github.com/rustalink/server/internal/voice/gateway"
	"github.com/rustalink/server/internal/voice/udplink"
	"github.com/rustalink/server/pkg/commons"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outputChannelSize bounds how many pending outbound events a slow
// client can accumulate before pushOutput starts dropping them.
const outputChannelSize = 64

// statsInterval is how often each connected control channel receives an
// unsolicited "stats" op, carrying the same node-wide numbers the REST
// stats endpoint reports.
const statsInterval = 60 * time.Second

// Conn is one client's control-channel connection.
type Conn struct {
	conn   *websocket.Conn
	logger commons.Logger

	server  *rest.Server
	manager *player.Manager
	store   *session.Store

	sessionID string
	userID    string
	registry  *session.Registry

	outputCh chan outboundEnvelope
	closed   chan struct{}

	mu           sync.Mutex
	pendingReady map[string]pendingVoice
}

// pendingVoice bridges the Ready and Session-Description callbacks: the
// UDP socket opened for IP discovery is reused for the RTP link once
// the secret key arrives.
type pendingVoice struct {
	ready gateway.ReadyPayload
	conn  *net.UDPConn
}

// Handler upgrades "/" requests into control-channel connections bound
// to s's session store, player manager, and transport bindings.
func Handler(s *rest.Server, logger commons.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("user-id")
		if userID == "" {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		store := s.Store()
		sessionID, resumeToken, resumed := resolveSession(c.Request.Context(), store, userID, c.GetHeader("session-id"))
		if sessionID == "" {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			if logger != nil {
				logger.Warnw("ws: upgrade failed", "error", err)
			}
			return
		}

		conn := &Conn{
			conn:         wsConn,
			logger:       logger,
			server:       s,
			manager:      s.Manager(),
			store:        store,
			sessionID:    sessionID,
			userID:       userID,
			registry:     s.RegistryFor(sessionID),
			outputCh:     make(chan outboundEnvelope, outputChannelSize),
			closed:       make(chan struct{}),
			pendingReady: make(map[string]pendingVoice),
		}

		go conn.runWriter()
		go conn.runStatsTicker()
		conn.pushOutput(OpReady, readyPayload{Resumed: resumed, SessionID: resumeToken})
		conn.readLoop()
	}
}

// resolveSession resumes an existing slot when the client presents a
// resume token, falling back to claiming a fresh session.
func resolveSession(ctx context.Context, store *session.Store, userID, resumeToken string) (sessionID, token string, resumed bool) {
	if resumeToken != "" {
		if sid, err := store.Resume(ctx, resumeToken); err == nil {
			return sid, resumeToken, true
		}
	}
	sess, signed, err := store.Claim(ctx, userID)
	if err != nil {
		return "", "", false
	}
	return sess.ID, signed, false
}

// runWriter is the single goroutine allowed to call WriteJSON, so
// outbound events stay strictly ordered relative to each other.
func (c *Conn) runWriter() {
	for msg := range c.outputCh {
		if err := c.conn.WriteJSON(msg); err != nil {
			if c.logger != nil {
				c.logger.Warnw("ws: write failed", "error", err, "session", c.sessionID)
			}
			return
		}
	}
}

// pushOutput enqueues an event for runWriter, dropping it rather than
// blocking if the client has fallen behind.
func (c *Conn) pushOutput(op string, data interface{}) {
	select {
	case c.outputCh <- outboundEnvelope{Op: op, Data: data}:
	default:
		if c.logger != nil {
			c.logger.Warnw("ws: output channel full, dropping event", "op", op, "session", c.sessionID)
		}
	}
}

// readLoop dispatches inbound ops until the connection closes, then
// tears down the output writer. The session's Redis slot is left
// intact so the client may resume within the configured timeout.
func (c *Conn) readLoop() {
	defer close(c.closed)
	defer close(c.outputCh)
	defer c.conn.Close()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope inboundEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			if c.logger != nil {
				c.logger.Warnw("ws: malformed message", "error", err)
			}
			continue
		}

		switch envelope.Op {
		case OpVoiceUpdate:
			var data voiceUpdateData
			if err := json.Unmarshal(raw, &data); err == nil {
				go c.connectVoice(data)
			}
		case OpPlay:
			var data playData
			if err := json.Unmarshal(raw, &data); err == nil {
				c.handlePlay(data)
			}
		case OpStop:
			c.handleStop(envelope.GuildID)
		case OpDestroy:
			c.handleDestroy(envelope.GuildID)
		}
	}
}

func (c *Conn) handlePlay(data playData) {
	p := c.registry.GetOrCreate(data.GuildID)
	transport := c.server.TransportFor(data.GuildID)
	if transport == nil {
		c.pushOutput(OpEvent, eventPayload{
			Type:    EventTrackException,
			GuildID: data.GuildID,
			Exception: &exceptionPayload{
				Message:  fmt.Sprintf("no voice connection established for guild %s", data.GuildID),
				Severity: "suspicious",
			},
		})
		return
	}

	onEnd := func() {
		c.pushOutput(OpEvent, eventPayload{Type: EventTrackEnd, GuildID: data.GuildID, Reason: ReasonFinished})
	}
	onStuck := func() {
		c.pushOutput(OpEvent, eventPayload{
			Type: EventTrackStuck, GuildID: data.GuildID,
			ThresholdMs: int64(c.manager.StuckThresholdMs()),
		})
	}
	if err := c.manager.Play(context.Background(), p, data.Track.SourceTag, data.Track.Identifier, transport, onEnd, onStuck); err != nil {
		c.pushOutput(OpEvent, eventPayload{
			Type:    EventTrackException,
			GuildID: data.GuildID,
			Exception: &exceptionPayload{Message: err.Error(), Severity: "fault"},
		})
		c.pushOutput(OpEvent, eventPayload{Type: EventTrackEnd, GuildID: data.GuildID, Reason: ReasonLoadFailed})
		return
	}

	snap := p.Snapshot()
	var pingMs int64 = -1
	if g := c.server.GatewayFor(data.GuildID); g != nil {
		pingMs = g.RTT().Milliseconds()
	}
	c.pushOutput(OpEvent, eventPayload{Type: EventTrackStart, GuildID: data.GuildID, Track: snap.Track})
	c.pushOutput(OpPlayerUpdate, playerUpdatePayload{
		GuildID: data.GuildID,
		State:   playerUpdateState{Connected: true, PingMs: pingMs},
	})
}

func (c *Conn) handleStop(guildID string) {
	c.manager.Stop(guildID)
	c.pushOutput(OpEvent, eventPayload{Type: EventTrackEnd, GuildID: guildID, Reason: ReasonStopped})
}

func (c *Conn) handleDestroy(guildID string) {
	c.manager.Stop(guildID)
	c.registry.Delete(guildID)
	c.server.UnbindTransport(guildID)
	c.pushOutput(OpEvent, eventPayload{Type: EventTrackEnd, GuildID: guildID, Reason: ReasonCleanup})
}

// connectVoice drives the voice gateway handshake for one guild: dial
// the voice endpoint, wait for Ready (ssrc/ip/port), run UDP IP
// discovery and echo the result back via Select-Protocol, then on
// SessionDescription (secret key) bind the resulting udplink as the
// guild's playback transport.
func (c *Conn) connectVoice(data voiceUpdateData) {
	identity := gateway.Identity{
		GuildID:   data.GuildID,
		UserID:    c.userID,
		SessionID: data.SessionID,
		Token:     data.Token,
	}
	g := gateway.New(identity, c.logger)

	g.OnReady(func(r gateway.ReadyPayload) {
		remoteAddr := &net.UDPAddr{IP: net.ParseIP(r.IP), Port: r.Port}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, externalIP, externalPort, err := udplink.Discover(ctx, remoteAddr, r.SSRC)
		if err != nil {
			if c.logger != nil {
				c.logger.Warnw("ws: ip discovery failed", "error", err, "guild", data.GuildID)
			}
			return
		}

		c.mu.Lock()
		c.pendingReady[data.GuildID] = pendingVoice{ready: r, conn: conn}
		c.mu.Unlock()

		if err := g.SendSelectProtocol(externalIP, externalPort, gateway.PreferredEncryptionMode); err != nil {
			if c.logger != nil {
				c.logger.Warnw("ws: select-protocol send failed", "error", err, "guild", data.GuildID)
			}
		}
	})

	g.OnSessionDescription(func(sd gateway.SessionDescription) {
		c.mu.Lock()
		pending, ok := c.pendingReady[data.GuildID]
		delete(c.pendingReady, data.GuildID)
		c.mu.Unlock()
		if !ok {
			return
		}

		link, err := udplink.NewFromConn(pending.conn, pending.ready.SSRC, sd.SecretKey)
		if err != nil {
			if c.logger != nil {
				c.logger.Warnw("ws: udplink open failed", "error", err, "guild", data.GuildID)
			}
			return
		}
		c.server.BindTransport(data.GuildID, link)
		c.server.BindGateway(data.GuildID, g)
		c.pushOutput(OpPlayerUpdate, playerUpdatePayload{
			GuildID: data.GuildID,
			State:   playerUpdateState{Connected: true, PingMs: g.RTT().Milliseconds()},
		})
	})

	g.OnClose(func(code int) {
		c.server.UnbindTransport(data.GuildID)
		c.server.UnbindGateway(data.GuildID)
		c.pushOutput(OpEvent, eventPayload{Type: EventWebSocketClosed, GuildID: data.GuildID, Code: code})
	})

	if err := g.Run(context.Background(), "wss://"+data.Endpoint); err != nil {
		if c.logger != nil {
			c.logger.Warnw("ws: voice gateway connection ended", "error", err, "guild", data.GuildID)
		}
	}
}

// runStatsTicker pushes a "stats" event every statsInterval until the
// connection's output channel closes.
func (c *Conn) runStatsTicker() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !c.PushStats() {
			return
		}
	}
}

// PushStats reports the node-wide player counts and frame stats over
// this connection, returning false once the output channel has closed
// (signaling runStatsTicker to stop).
func (c *Conn) PushStats() bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	players, playing := c.server.PlayerCounts()
	sent, nulled := c.manager.TotalCounters()
	c.pushOutput(OpStats, statsPayload{
		Players:        players,
		PlayingPlayers: playing,
		FrameStats:     frameStats{Sent: sent, Nulled: nulled},
	})
	return true
}
