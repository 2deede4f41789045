package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustalink/server/pkg/commons"
)

// State is the VoiceGateway's connection lifecycle.
type State uint32

const (
	StateConnecting State = iota
	StateHandshaking
	StateEstablished
	StateClosing
)

// Opcodes used against the voice endpoint.
const (
	OpIdentify          = 0
	OpSelectProtocol    = 1
	OpReady             = 2
	OpHeartbeat         = 3
	OpSessionDescription = 4
	OpHeartbeatAck      = 6
	OpResume            = 7
	OpHello             = 8
	OpResumed           = 9
	OpClientDisconnect  = 13
)

// Message is the envelope every voice gateway opcode is wrapped in.
type Message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Identity carries the fields the Identify/Resume payloads need.
type Identity struct {
	GuildID   string
	UserID    string
	SessionID string
	Token     string
}

// SessionDescription is the Op-4 payload: the negotiated encryption
// secret key.
type SessionDescription struct {
	SecretKey [32]byte
	Mode      string
}

// ReadyPayload is the Op-2 payload.
type ReadyPayload struct {
	SSRC uint32
	IP   string
	Port int
	Modes []string
}

// Gateway drives one voice WS connection's state machine.
type Gateway struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	state atomic.Uint32

	identity Identity
	logger   commons.Logger

	heartbeatInterval time.Duration
	lastSeq           atomic.Uint64
	awaitingAck       atomic.Bool
	missedAcks        atomic.Uint32
	hbGen             atomic.Uint32
	lastHeartbeatSent atomic.Int64
	lastRTTMicros     atomic.Int64
	lastCloseCode     atomic.Int32

	backoff Backoff

	onReady    func(ReadyPayload)
	onSecret   func(SessionDescription)
	onClose    func(code int)
}

// MissedAckThreshold is the count of consecutive missed heartbeat acks
// at which the gateway treats the connection as dead: the third miss
// in a row trips it.
const MissedAckThreshold = 3

// PreferredEncryptionMode is the only encryption mode this gateway ever
// offers in Select-Protocol, matching the AEAD cipher udplink.Link
// actually implements.
const PreferredEncryptionMode = "aead_chacha20_poly1305"

// New builds a Gateway bound to identity; the voice endpoint URL is
// passed later to Connect or Run.
func New(identity Identity, logger commons.Logger) *Gateway {
	g := &Gateway{identity: identity, logger: logger}
	g.state.Store(uint32(StateConnecting))
	return g
}

func (g *Gateway) State() State { return State(g.state.Load()) }

// OnReady, OnSessionDescription, OnClose register callbacks invoked as
// the corresponding opcode/event arrives.
func (g *Gateway) OnReady(f func(ReadyPayload))              { g.onReady = f }
func (g *Gateway) OnSessionDescription(f func(SessionDescription)) { g.onSecret = f }
func (g *Gateway) OnClose(f func(code int))                   { g.onClose = f }

// Connect dials wsURL and runs the Connecting -> Handshaking ->
// Established handshake, then blocks reading frames until the
// connection closes or ctx is cancelled.
func (g *Gateway) Connect(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("gateway: dial: %w", err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	g.state.Store(uint32(StateConnecting))

	if err := g.sendIdentify(); err != nil {
		return err
	}
	g.state.Store(uint32(StateHandshaking))

	return g.readLoop(ctx)
}

func (g *Gateway) sendIdentify() error {
	payload := map[string]string{
		"guild_id":   g.identity.GuildID,
		"user_id":    g.identity.UserID,
		"session_id": g.identity.SessionID,
		"token":      g.identity.Token,
	}
	return g.send(OpIdentify, payload)
}

// SendSelectProtocol sends Op-1 once IP discovery has resolved the
// client's externally visible address, choosing the encryption mode to
// use for the session.
func (g *Gateway) SendSelectProtocol(address string, port int, mode string) error {
	payload := map[string]interface{}{
		"protocol": "udp",
		"data": map[string]interface{}{
			"address": address,
			"port":    port,
			"mode":    mode,
		},
	}
	return g.send(OpSelectProtocol, payload)
}

func (g *Gateway) sendResume() error {
	payload := map[string]interface{}{
		"guild_id":   g.identity.GuildID,
		"session_id": g.identity.SessionID,
		"token":      g.identity.Token,
		"seq_ack":    g.lastSeq.Load(),
	}
	return g.send(OpResume, payload)
}

func (g *Gateway) send(op int, d interface{}) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	msg := Message{Op: op, D: body}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("gateway: not connected")
	}
	return g.conn.WriteJSON(msg)
}

func (g *Gateway) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg Message
		if err := g.conn.ReadJSON(&msg); err != nil {
			code := websocket.CloseAbnormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			} else {
				code = 0
			}
			g.handleClose(code)
			return err
		}

		if err := g.dispatch(msg); err != nil {
			g.logger.Warnw("gateway: dispatch failed", "op", msg.Op, "error", err)
		}
	}
}

func (g *Gateway) dispatch(msg Message) error {
	switch msg.Op {
	case OpHello:
		var hello struct {
			HeartbeatInterval float64 `json:"heartbeat_interval"`
		}
		if err := json.Unmarshal(msg.D, &hello); err != nil {
			return err
		}
		g.heartbeatInterval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
		// A Hello after a reconnect supersedes the previous loop; the
		// generation bump makes the old one exit at its next tick, and a
		// stale in-flight flag from the dead connection must not count
		// misses against the fresh one.
		g.awaitingAck.Store(false)
		g.missedAcks.Store(0)
		go g.heartbeatLoop(g.hbGen.Add(1))
		return nil

	case OpReady:
		var ready ReadyPayload
		if err := json.Unmarshal(msg.D, &ready); err != nil {
			return err
		}
		g.state.Store(uint32(StateHandshaking))
		if g.onReady != nil {
			g.onReady(ready)
		}
		return nil

	case OpSessionDescription:
		var sd struct {
			SecretKey []byte `json:"secret_key"`
			Mode      string `json:"mode"`
		}
		if err := json.Unmarshal(msg.D, &sd); err != nil {
			return err
		}
		var desc SessionDescription
		copy(desc.SecretKey[:], sd.SecretKey)
		desc.Mode = sd.Mode
		g.state.Store(uint32(StateEstablished))
		g.backoff.Reset()
		if g.onSecret != nil {
			g.onSecret(desc)
		}
		return nil

	case OpHeartbeatAck:
		g.awaitingAck.Store(false)
		g.missedAcks.Store(0)
		sentAt := g.lastHeartbeatSent.Load()
		if sentAt != 0 {
			g.lastRTTMicros.Store(time.Now().UnixMicro() - sentAt)
		}
		return nil

	case OpResumed:
		g.state.Store(uint32(StateEstablished))
		g.backoff.Reset()
		return nil

	default:
		return nil
	}
}

func (g *Gateway) heartbeatLoop(gen uint32) {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		if g.hbGen.Load() != gen || g.State() == StateClosing {
			return
		}

		// At most one heartbeat in flight: an interval that elapses
		// with the previous one still unacked counts a miss instead of
		// stacking a second send.
		if g.awaitingAck.Load() {
			if g.missedAcks.Add(1) >= MissedAckThreshold {
				g.logger.Warnw("gateway: missed heartbeat ack threshold exceeded")
				g.handleClose(0)
				return
			}
			continue
		}

		now := time.Now()
		g.lastHeartbeatSent.Store(now.UnixMicro())
		g.awaitingAck.Store(true)
		if err := g.send(OpHeartbeat, map[string]interface{}{
			"t":       now.UnixMilli(),
			"seq_ack": g.lastSeq.Load(),
		}); err != nil {
			g.logger.Warnw("gateway: heartbeat send failed", "error", err)
			return
		}
	}
}

// RTT returns the last sampled heartbeat round-trip time.
func (g *Gateway) RTT() time.Duration {
	return time.Duration(g.lastRTTMicros.Load()) * time.Microsecond
}

func (g *Gateway) handleClose(code int) {
	prev := g.state.Swap(uint32(StateClosing))
	g.lastCloseCode.Store(int32(code))

	// Close the socket so a readLoop parked inside ReadJSON actually
	// returns; without this a locally detected failure (missed acks)
	// never surfaces to Run's reconnect dispatch.
	g.mu.Lock()
	if g.conn != nil {
		_ = g.conn.Close()
	}
	g.mu.Unlock()

	// readLoop's error path re-enters here once the socket it was
	// blocked on dies; only the first transition fires the callback.
	if prev == uint32(StateClosing) {
		return
	}
	if g.onClose != nil {
		g.onClose(code)
	}
}

// Run dials wsURL and, on every close, classifies the close code per
// the Closing-state dispatch table and automatically reconnects
// (re-identifying or resuming as the code demands) until the gateway
// sees a fatal close code, reconnect attempts are exhausted, or ctx is
// cancelled.
func (g *Gateway) Run(ctx context.Context, wsURL string) error {
	err := g.Connect(ctx, wsURL)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		code := int(g.lastCloseCode.Load())
		if Outcome(code) == OutcomeShutdown {
			return fmt.Errorf("gateway: fatal close code %d", code)
		}
		if g.backoff.Exhausted() {
			return fmt.Errorf("gateway: reconnect attempts exhausted after close code %d: %w", code, err)
		}
		err = g.Reconnect(ctx, wsURL, code)
	}
}

// Reconnect classifies the last close code and, per the close-code
// table, either re-identifies, resumes, or reports the gateway
// exhausted/fatal.
func (g *Gateway) Reconnect(ctx context.Context, wsURL string, closeCode int) error {
	if Outcome(closeCode) == OutcomeShutdown {
		return fmt.Errorf("gateway: fatal close code %d", closeCode)
	}

	if g.backoff.Exhausted() {
		return fmt.Errorf("gateway: reconnect attempts exhausted")
	}
	delay := g.backoff.Next()
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("gateway: reconnect dial: %w", err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	if Outcome(closeCode) == OutcomeReidentify {
		if err := g.sendIdentify(); err != nil {
			return err
		}
	} else {
		if err := g.sendResume(); err != nil {
			return err
		}
	}
	return g.readLoop(ctx)
}
