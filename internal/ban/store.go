// Package ban provides the durable moderation record store backed by Redis.
// Per durable user identity it keeps a cumulative report counter and an
// optional ban whose expiry is carried by the key's TTL:
//
//	Key:   ban:<identity>      Value: <reason>   TTL: remaining ban time
//	Key:   reports:<identity>  Value: <count>    TTL: counting window
//
// The store is external state consulted by the moderation gate; all errors
// are returned so callers can apply the fail-open policy.
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for ban records.
	BanPrefix = "ban:"

	// ReportsPrefix is the Redis key prefix for report counters.
	ReportsPrefix = "reports:"

	// ReportThreshold is the report count at which a ban is issued. Only
	// the transition across the threshold triggers the ban action; later
	// reports still increment the counter.
	ReportThreshold = 3

	// BanDuration is how long a threshold ban lasts.
	BanDuration = 24 * time.Hour

	// ReportsTTL is how long the report counter lives in Redis. With no
	// new reports inside the window the counter resets to zero.
	ReportsTTL = 24 * time.Hour
)

// Store manages moderation records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks whether identity currently holds a non-expired ban.
// It returns the ban expiry time when banned. Redis errors are returned so
// callers can decide how to handle them (the gate fails open).
func (s *Store) IsBanned(ctx context.Context, identity string) (bool, time.Time, error) {
	key := BanPrefix + identity

	_, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		// The ban exists but its TTL can't be read. Report banned with an
		// immediate expiry rather than swallowing the ban.
		return true, time.Now(), nil
	}

	return true, time.Now().Add(ttl), nil
}

// Ban sets a ban on identity for the given duration. The record expires on
// its own; an expired ban never refuses admission.
func (s *Store) Ban(ctx context.Context, identity string, duration time.Duration, reason string) error {
	key := BanPrefix + identity
	return s.client.Set(ctx, key, reason, duration).Err()
}

// Unban lifts a ban immediately.
func (s *Store) Unban(ctx context.Context, identity string) error {
	return s.client.Del(ctx, BanPrefix+identity).Err()
}

// ReportCount returns the current report counter for identity. Returns 0 if
// the counter does not exist or has expired.
func (s *Store) ReportCount(ctx context.Context, identity string) (int64, error) {
	val, err := s.client.Get(ctx, ReportsPrefix+identity).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// ReportAndCheck atomically increments identity's report counter and issues
// a ban exactly when the counter crosses ReportThreshold. Counts past the
// threshold keep incrementing without re-banning.
//
// Returns the updated count, whether a ban was issued by this call, and the
// ban's expiry time when one was.
func (s *Store) ReportAndCheck(ctx context.Context, identity string) (int64, bool, time.Time, error) {
	key := ReportsPrefix + identity

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, time.Time{}, fmt.Errorf("ban: report incr: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, ReportsTTL).Err(); err != nil {
			return count, false, time.Time{}, fmt.Errorf("ban: report expire: %w", err)
		}
	}

	if count != ReportThreshold {
		return count, false, time.Time{}, nil
	}

	if err := s.Ban(ctx, identity, BanDuration, "report_threshold"); err != nil {
		return count, false, time.Time{}, fmt.Errorf("ban: report ban: %w", err)
	}
	return count, true, time.Now().Add(BanDuration), nil
}
