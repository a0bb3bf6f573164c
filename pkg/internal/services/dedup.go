package services

import (
	"context"
	"fmt"
	"time"

	localCache "github.com/ossdlab/ballotbox/pkg/internal/cache"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/spf13/viper"
)

// VoteDedupKey derives the deterministic per-voter-per-poll key used both by
// the queue for coalescing and by the cache-side dedup guard.
func VoteDedupKey(pollId uint, voterKey string) string {
	return fmt.Sprintf("vote:%d:%s", pollId, voterKey)
}

// HasVoted is the fast-path duplicate check. A miss proves nothing (the
// cache is process-local and empty after a restart); the vote table's
// uniqueness constraint stays authoritative.
func HasVoted(ctx context.Context, dedupKey string) bool {
	cacheManager := cache.New[any](localCache.S)
	marshal := marshaler.New(cacheManager)

	if _, err := marshal.Get(ctx, dedupKey, new(bool)); err == nil {
		return true
	}
	return false
}

// MarkVoted records a confirmed commit in the cache. It must only be called
// after the ledger transaction went through, never speculatively, so a cache
// hit always corresponds to a real vote.
func MarkVoted(ctx context.Context, dedupKey string, ttl time.Duration) {
	cacheManager := cache.New[any](localCache.S)
	marshal := marshaler.New(cacheManager)

	_ = marshal.Set(
		ctx,
		dedupKey,
		true,
		store.WithExpiration(ttl),
		store.WithTags([]string{"vote-dedup"}),
	)
}

func DedupTTL() time.Duration {
	if ttl := viper.GetDuration("dedup.ttl"); ttl > 0 {
		return ttl
	}
	return time.Hour
}
