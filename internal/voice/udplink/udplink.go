// Package udplink implements the per-session UDP transport: RTP framing
// over the negotiated voice socket, AEAD encryption of the Opus
// payload, and the silence-frame tail emitted on transition to idle.
package udplink

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/rustalink/server/internal/audio"
)

// discoveryPacketSize is the fixed size of the IP-discovery probe and
// its reply: 2 bytes type, 2 bytes length, 4 bytes SSRC, 64 bytes
// null-padded address, 2 bytes port.
const discoveryPacketSize = 74

const (
	discoveryTypeRequest  = 0x1
	discoveryTypeResponse = 0x2
)

// defaultDiscoveryTimeout bounds how long Discover waits for the voice
// server to echo back the probe when the caller supplies no deadline.
const defaultDiscoveryTimeout = 5 * time.Second

// SilenceFrame is the 3-byte Opus silence marker sent five times on a
// transition from active to idle.
var SilenceFrame = audio.OpusSilence

// SilenceFrameCount is how many consecutive SilenceFrame packets are
// sent before transmission ceases.
const SilenceFrameCount = 5

// Link owns one UDP socket and the RTP/encryption state for one voice
// session.
type Link struct {
	conn   *net.UDPConn
	ssrc   uint32
	secret [32]byte
	aead   interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
	}

	seq       atomic.Uint32
	timestamp atomic.Uint32

	silenceRemaining atomic.Int32
}

// New opens a UDP socket, optionally bound to localAddr (for IP
// rotation), toward the given remote host/port, and builds the AEAD
// cipher from the 32-byte secret key negotiated in Session-Description.
func New(localAddr, remoteAddr *net.UDPAddr, ssrc uint32, secret [32]byte) (*Link, error) {
	conn, err := net.DialUDP("udp", localAddr, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("udplink: dial: %w", err)
	}
	return NewFromConn(conn, ssrc, secret)
}

// NewFromConn wraps an already-connected UDP socket, the one Discover
// used for the IP-discovery probe, as a Link, avoiding a second dial
// (and a second NAT mapping) for the same session.
func NewFromConn(conn *net.UDPConn, ssrc uint32, secret [32]byte) (*Link, error) {
	aead, err := chacha20poly1305.New(secret[:])
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("udplink: aead init: %w", err)
	}
	return &Link{conn: conn, ssrc: ssrc, secret: secret, aead: aead}, nil
}

// Discover dials remoteAddr and performs the UDP IP-discovery handshake:
// send a 74-byte probe keyed by ssrc, parse the echoed external address
// and port out of the reply. The returned conn is already connected and
// should be handed to NewFromConn rather than re-dialed.
func Discover(ctx context.Context, remoteAddr *net.UDPAddr, ssrc uint32) (conn *net.UDPConn, externalIP string, externalPort int, err error) {
	conn, err = net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return nil, "", 0, fmt.Errorf("udplink: discovery dial: %w", err)
	}

	probe := make([]byte, discoveryPacketSize)
	binary.BigEndian.PutUint16(probe[0:2], discoveryTypeRequest)
	binary.BigEndian.PutUint16(probe[2:4], discoveryPacketSize-4)
	binary.BigEndian.PutUint32(probe[4:8], ssrc)

	if _, err := conn.Write(probe); err != nil {
		conn.Close()
		return nil, "", 0, fmt.Errorf("udplink: discovery send: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultDiscoveryTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return nil, "", 0, fmt.Errorf("udplink: discovery deadline: %w", err)
	}

	resp := make([]byte, discoveryPacketSize)
	n, err := conn.Read(resp)
	if err != nil {
		conn.Close()
		return nil, "", 0, fmt.Errorf("udplink: discovery read: %w", err)
	}
	if n < discoveryPacketSize {
		conn.Close()
		return nil, "", 0, fmt.Errorf("udplink: discovery response too short (%d bytes)", n)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, "", 0, fmt.Errorf("udplink: clear deadline: %w", err)
	}

	addrField := resp[8 : 8+64]
	end := bytes.IndexByte(addrField, 0)
	if end == -1 {
		end = len(addrField)
	}
	externalIP = string(addrField[:end])
	externalPort = int(binary.BigEndian.Uint16(resp[72:74]))
	return conn, externalIP, externalPort, nil
}

// SendOpus encrypts and frames one Opus packet as RTP, advancing the
// sequence number by 1 (mod 2^16) and the timestamp by 960 (mod 2^32).
func (l *Link) SendOpus(payload []byte) error {
	packet, err := l.frame(payload)
	if err != nil {
		return err
	}
	_, err = l.conn.Write(packet)
	return err
}

// SendSilence emits SilenceFrameCount consecutive silence frames then
// stops, the standard end-of-speaking signal.
func (l *Link) SendSilence() error {
	for i := 0; i < SilenceFrameCount; i++ {
		if err := l.SendOpus(SilenceFrame); err != nil {
			return err
		}
	}
	return nil
}

func (l *Link) frame(payload []byte) ([]byte, error) {
	seq := uint16(l.seq.Add(1))
	ts := l.timestamp.Add(audio.SamplesPerTick)

	hdr := rtp.Header{
		Version:        2,
		PayloadType:    audio.OpusPayloadType,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           l.ssrc,
	}
	headerBytes, err := hdr.Marshal()
	if err != nil {
		return nil, fmt.Errorf("udplink: marshal rtp header: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("udplink: nonce: %w", err)
	}

	encrypted := l.aead.Seal(nil, nonce, payload, headerBytes)

	out := make([]byte, 0, len(headerBytes)+len(encrypted)+len(nonce))
	out = append(out, headerBytes...)
	out = append(out, encrypted...)
	out = append(out, nonce...)
	return out, nil
}

func (l *Link) Close() error {
	return l.conn.Close()
}
