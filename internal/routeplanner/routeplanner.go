// Package routeplanner tracks which outbound IP addresses are
// temporarily excluded (because a remote host rate-limited or banned
// them) so the source-resolution layer can rotate away from them. The
// excluded set is Redis-backed using the same atomic
// SADD/SREM/SMEMBERS Lua-script idiom a UDP port allocator elsewhere
// in this codebase uses for its available/allocated sets.
package routeplanner

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const excludedSetKey = "{rlroute}:excluded"

// markExcludedScript adds addr to the excluded set and stamps it with
// an expiry-at-score in a companion sorted set so FailingAddresses can
// prune addresses whose ban has expired without a separate key per
// address.
var markExcludedScript = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// unmarkExcludedScript reverses markExcludedScript.
var unmarkExcludedScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

const excludedExpiryKey = "{rlroute}:excluded:expiry"

// Planner decides which local IP a new outbound connection should
// bind to, rotating among a configured pool while an address is
// excluded.
type Planner struct {
	rdb  *redis.Client
	pool []string
}

// New builds a Planner that rotates across the given pool of local
// addresses.
func New(rdb *redis.Client, pool []string) *Planner {
	return &Planner{rdb: rdb, pool: pool}
}

// MarkFailing excludes addr for the given ban duration, e.g. after a
// remote host returns 429/418 against it.
func (p *Planner) MarkFailing(ctx context.Context, addr string, banFor time.Duration) error {
	expiry := time.Now().Add(banFor).Unix()
	return markExcludedScript.Run(ctx, p.rdb, []string{excludedSetKey, excludedExpiryKey}, addr, expiry).Err()
}

// MarkHealthy clears an exclusion early, e.g. after an operator
// intervenes via the route-planner-free admin endpoint.
func (p *Planner) MarkHealthy(ctx context.Context, addr string) error {
	return unmarkExcludedScript.Run(ctx, p.rdb, []string{excludedSetKey, excludedExpiryKey}, addr).Err()
}

// Excluded reports whether addr is currently excluded.
func (p *Planner) Excluded(ctx context.Context, addr string) (bool, error) {
	return p.rdb.SIsMember(ctx, excludedSetKey, addr).Result()
}

// FailingAddresses returns every address currently excluded, pruning
// any whose ban has expired as it goes.
func (p *Planner) FailingAddresses(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	expired, err := p.rdb.ZRangeByScore(ctx, excludedExpiryKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return nil, fmt.Errorf("routeplanner: scan expired: %w", err)
	}
	for _, addr := range expired {
		_ = p.MarkHealthy(ctx, addr)
	}
	return p.rdb.SMembers(ctx, excludedSetKey).Result()
}

// Next returns the first pool address not currently excluded, or an
// error if every address is banned.
func (p *Planner) Next(ctx context.Context) (string, error) {
	for _, addr := range p.pool {
		excluded, err := p.Excluded(ctx, addr)
		if err != nil {
			return "", err
		}
		if !excluded {
			return addr, nil
		}
	}
	return "", fmt.Errorf("routeplanner: all %d addresses excluded", len(p.pool))
}
