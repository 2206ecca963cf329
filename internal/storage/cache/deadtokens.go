// --- File: internal/storage/cache/deadtokens.go ---
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// ErrSuppressed is the outcome error for a token a provider already reported dead.
var ErrSuppressed = errors.New("token previously reported invalid")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// ExistsMany reports, per key, whether it is present.
	ExistsMany(ctx context.Context, keys []string) ([]bool, error)
	// SetMany stores value under every key with a TTL.
	SetMany(ctx context.Context, keys []string, value string, ttl time.Duration) error
}

// DeadTokenFilter is a Decorator that skips tokens a provider has already
// rejected as permanently invalid, and remembers new ones.
type DeadTokenFilter struct {
	next     dispatch.Dispatcher
	cache    CacheClient
	platform dispatch.Platform
	ttl      time.Duration
	logger   *slog.Logger
}

// NewDeadTokenFilter creates the decorator.
func NewDeadTokenFilter(next dispatch.Dispatcher, cache CacheClient, platform dispatch.Platform, ttl time.Duration, logger *slog.Logger) *DeadTokenFilter {
	return &DeadTokenFilter{
		next:     next,
		cache:    cache,
		platform: platform,
		ttl:      ttl,
		logger:   logger.With("component", "DeadTokenFilter", "platform", string(platform)),
	}
}

// Send forwards only the live tokens and stitches the outcomes back into input order.
func (f *DeadTokenFilter) Send(ctx context.Context, tokens []string, n dispatch.Notification) []dispatch.DeliveryOutcome {
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = f.cacheKey(t)
	}

	// 1. Lookup. The registry is an optimization: if Redis is down, we send to everyone.
	dead, err := f.cache.ExistsMany(ctx, keys)
	if err != nil || len(dead) != len(tokens) {
		if err != nil {
			f.logger.Warn("Dead token lookup failed; sending to all tokens", "err", err)
		}
		dead = make([]bool, len(tokens))
	}

	outcomes := make([]dispatch.DeliveryOutcome, len(tokens))
	live := make([]string, 0, len(tokens))
	liveIdx := make([]int, 0, len(tokens))
	for i, t := range tokens {
		if dead[i] {
			outcomes[i] = dispatch.Invalid(t, f.platform, ErrSuppressed)
			continue
		}
		live = append(live, t)
		liveIdx = append(liveIdx, i)
	}

	if suppressed := len(tokens) - len(live); suppressed > 0 {
		f.logger.Info("Suppressed known-dead tokens", "count", suppressed)
	}
	if len(live) == 0 {
		return outcomes
	}

	// 2. Delegate
	sent := f.next.Send(ctx, live, n)
	if len(sent) != len(live) {
		f.logger.Error("Adapter returned wrong number of outcomes", "expected", len(live), "got", len(sent))
		for _, i := range liveIdx {
			outcomes[i] = dispatch.Failed(tokens[i], f.platform, fmt.Errorf("%w: adapter outcome count mismatch", dispatch.ErrInternal))
		}
		return outcomes
	}

	// 3. Record newly invalid tokens (Fire and Forget)
	var newlyDead []string
	for j, o := range sent {
		outcomes[liveIdx[j]] = o
		if o.TokenInvalid {
			newlyDead = append(newlyDead, keys[liveIdx[j]])
		}
	}
	if len(newlyDead) > 0 {
		if err := f.cache.SetMany(ctx, newlyDead, "1", f.ttl); err != nil {
			f.logger.Warn("Failed to record dead tokens", "count", len(newlyDead), "err", err)
		}
	}

	return outcomes
}

// cacheKey never stores the raw token.
func (f *DeadTokenFilter) cacheKey(token string) string {
	return fmt.Sprintf("push:dead:%s:%s", f.platform, hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
