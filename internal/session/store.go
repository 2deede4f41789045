package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/rustalink/server/pkg/commons"
)

// Redis key layout for resumable sessions, hash-tagged so every key
// for a given session lands on the same cluster slot.
const (
	sessionSlotPrefix = "{rlsess}:slot:"
	instanceSlotsKey  = "{rlsess}:instance:"
)

// claimSlotScript atomically registers a session id as owned by this
// instance and sets its resume TTL, mirroring the allocate-from-pool
// idiom: SADD the instance's owned-set, then SET the slot key with an
// expiry so a crashed instance's sessions age out on their own.
var claimSlotScript = redis.NewScript(`
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
return 1
`)

// releaseSlotScript removes a session's slot key and its membership in
// the owning instance's set, the resumable-session analogue of
// releasing a port back to the pool.
var releaseSlotScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

// Store persists resumable session slots in Redis: a session survives
// a disconnect for ResumeTTL, during which a client presenting the
// matching resume token may reattach without losing its players.
type Store struct {
	rdb        *redis.Client
	instanceID string
	resumeTTL  time.Duration
	signingKey []byte
	logger     commons.Logger
}

// NewStore builds a Store bound to this process's instanceID (used to
// scope crash recovery) with resumeTTL controlling how long a
// disconnected session's slot survives before garbage collection.
func NewStore(rdb *redis.Client, instanceID string, resumeTTL time.Duration, signingKey []byte, logger commons.Logger) *Store {
	return &Store{rdb: rdb, instanceID: instanceID, resumeTTL: resumeTTL, signingKey: signingKey, logger: logger}
}

// resumeClaims is the JWT payload issued as a session's resume token.
type resumeClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// signResumeToken issues a JWT naming sessionID, valid for ttl.
func signResumeToken(sessionID string, ttl time.Duration, signingKey []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, resumeClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	return token.SignedString(signingKey)
}

// parseResumeToken validates a resume token's signature and expiry
// and returns the session id it names.
func parseResumeToken(resumeToken string, signingKey []byte) (string, error) {
	claims := &resumeClaims{}
	_, err := jwt.ParseWithClaims(resumeToken, claims, func(t *jwt.Token) (interface{}, error) {
		return signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("session: invalid resume token: %w", err)
	}
	return claims.SessionID, nil
}

// Claim creates a new resumable session slot and returns the signed
// resume token a client must present to reattach.
func (s *Store) Claim(ctx context.Context, userID string) (*Session, string, error) {
	sessionID, err := randomID()
	if err != nil {
		return nil, "", fmt.Errorf("session: generate id: %w", err)
	}

	signed, err := signResumeToken(sessionID, s.resumeTTL, s.signingKey)
	if err != nil {
		return nil, "", fmt.Errorf("session: sign resume token: %w", err)
	}

	slotKey := sessionSlotPrefix + sessionID
	instanceKey := instanceSlotsKey + s.instanceID
	if err := claimSlotScript.Run(ctx, s.rdb, []string{slotKey, instanceKey}, sessionID, s.instanceID, int(s.resumeTTL.Seconds())).Err(); err != nil {
		return nil, "", fmt.Errorf("session: claim slot: %w", err)
	}

	sess := NewSession(sessionID, userID)
	sess.ResumeKey = signed
	return sess, signed, nil
}

// Resume validates a resume token and, if its slot has not expired,
// returns the session id it names so the caller can rebind the
// existing Registry.
func (s *Store) Resume(ctx context.Context, resumeToken string) (string, error) {
	sessionID, err := parseResumeToken(resumeToken, s.signingKey)
	if err != nil {
		return "", err
	}

	slotKey := sessionSlotPrefix + sessionID
	exists, err := s.rdb.Exists(ctx, slotKey).Result()
	if err != nil {
		return "", fmt.Errorf("session: check slot: %w", err)
	}
	if exists == 0 {
		return "", fmt.Errorf("session: slot %s expired", sessionID)
	}
	return sessionID, nil
}

// SetResuming reconfigures a session's resume behavior: when resuming
// is true, the slot's TTL is set to the requested timeout; when false,
// the slot is released immediately so a disconnect is terminal.
func (s *Store) SetResuming(ctx context.Context, sessionID string, resuming bool, timeoutSec int) error {
	if !resuming {
		return s.Release(ctx, sessionID)
	}
	slotKey := sessionSlotPrefix + sessionID
	return s.rdb.Expire(ctx, slotKey, time.Duration(timeoutSec)*time.Second).Err()
}

// Touch resets a slot's TTL to the store's resume TTL, keeping an
// active session from expiring mid-use.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	slotKey := sessionSlotPrefix + sessionID
	return s.rdb.Expire(ctx, slotKey, s.resumeTTL).Err()
}

// Release tears down a session's slot immediately instead of letting
// the TTL expire it; SetResuming calls it when resuming is turned off.
func (s *Store) Release(ctx context.Context, sessionID string) error {
	slotKey := sessionSlotPrefix + sessionID
	instanceKey := instanceSlotsKey + s.instanceID
	return releaseSlotScript.Run(ctx, s.rdb, []string{slotKey, instanceKey}, sessionID).Err()
}

// ReclaimCrashed scans this instance's owned-slot set for ids whose
// slot key has since expired (meaning the previous process died
// without a clean shutdown) and prunes them from the set, the same
// crash-recovery sweep a port allocator runs over its allocated set
// on startup.
func (s *Store) ReclaimCrashed(ctx context.Context) (int, error) {
	instanceKey := instanceSlotsKey + s.instanceID
	owned, err := s.rdb.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return 0, fmt.Errorf("session: list owned slots: %w", err)
	}

	reclaimed := 0
	for _, sessionID := range owned {
		slotKey := sessionSlotPrefix + sessionID
		exists, err := s.rdb.Exists(ctx, slotKey).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			if err := s.rdb.SRem(ctx, instanceKey, sessionID).Err(); err == nil {
				reclaimed++
			}
		}
	}
	if reclaimed > 0 && s.logger != nil {
		s.logger.Infow("session: reclaimed crashed slots", "count", reclaimed, "instance", s.instanceID)
	}
	return reclaimed, nil
}

func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
