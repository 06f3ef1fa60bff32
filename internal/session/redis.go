package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "oauth:session:"

// markUsedScript flips used from 0 to 1 and reports whether it did.
var markUsedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'used') == '0' then
	redis.call('HSET', KEYS[1], 'used', '1')
	return 1
end
return 0
`)

// deleteUsedScript removes the key only if it is still marked used.
var deleteUsedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'used') == '1' then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps each session in a hash that Redis expires at expires_at.
// Used sessions stay until they expire or CleanupUsed removes them.
type RedisStore struct {
	client *redis.Client
	opts   options
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: buildOptions(opts)}
}

func redisKey(state string) string { return redisKeyPrefix + state }

func (s *RedisStore) Create(ctx context.Context, provider, redirectURI, codeVerifier string) (*Session, error) {
	sess, err := s.opts.newSession(provider, redirectURI, codeVerifier)
	if err != nil {
		return nil, err
	}
	key := redisKey(sess.State)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":            sess.ID,
			"state":         sess.State,
			"code_verifier": sess.CodeVerifier,
			"redirect_uri":  sess.RedirectURI,
			"provider":      sess.Provider,
			"created_at":    sess.CreatedAt.UnixMilli(),
			"expires_at":    sess.ExpiresAt.UnixMilli(),
			"used":          "0",
		})
		pipe.PExpire(ctx, key, s.opts.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store oauth session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, state string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(state)).Result()
	if err != nil {
		return nil, fmt.Errorf("load oauth session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	sess, err := sessionFromHash(fields)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.opts.now()) {
		return nil, s.Remove(ctx, state)
	}
	return sess, nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, state string) (bool, error) {
	n, err := markUsedScript.Run(ctx, s.client, []string{redisKey(state)}).Int64()
	if err != nil {
		return false, fmt.Errorf("mark oauth session used: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Remove(ctx context.Context, state string) error {
	if err := s.client.Del(ctx, redisKey(state)).Err(); err != nil {
		return fmt.Errorf("delete oauth session: %w", err)
	}
	return nil
}

// CleanupExpired only finds sessions whose key TTL has not fired yet but
// whose expires_at has passed, which happens when clocks disagree.
func (s *RedisStore) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.opts.now().UnixMilli()
	return s.scan(ctx, func(key string) (int64, error) {
		v, err := s.client.HGet(ctx, key, "expires_at").Int64()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if v > now {
			return 0, nil
		}
		return s.client.Del(ctx, key).Result()
	})
}

func (s *RedisStore) CleanupUsed(ctx context.Context) (int64, error) {
	return s.scan(ctx, func(key string) (int64, error) {
		return deleteUsedScript.Run(ctx, s.client, []string{key}).Int64()
	})
}

func (s *RedisStore) scan(ctx context.Context, visit func(key string) (int64, error)) (int64, error) {
	var (
		total  int64
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return total, fmt.Errorf("scan oauth sessions: %w", err)
		}
		for _, key := range keys {
			n, err := visit(key)
			if err != nil {
				return total, fmt.Errorf("sweep oauth session: %w", err)
			}
			total += n
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func sessionFromHash(h map[string]string) (*Session, error) {
	created, err := strconv.ParseInt(h["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode oauth session created_at: %w", err)
	}
	expires, err := strconv.ParseInt(h["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode oauth session expires_at: %w", err)
	}
	return &Session{
		ID:           h["id"],
		State:        h["state"],
		CodeVerifier: h["code_verifier"],
		RedirectURI:  h["redirect_uri"],
		Provider:     h["provider"],
		CreatedAt:    time.UnixMilli(created).UTC(),
		ExpiresAt:    time.UnixMilli(expires).UTC(),
		Used:         h["used"] == "1",
	}, nil
}
