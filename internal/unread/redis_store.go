package unread

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-chat/internal/domain"
)

// addScript adds ARGV[1] to the set when it is above the watermark.
var addScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[2])
local id = tonumber(ARGV[1])
if raw and id <= tonumber(raw) then
  return 0
end
redis.call("ZADD", KEYS[1], id, ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return 1
`)

// markReadScript clears the range up to ARGV[1]. The watermark only moves
// forward, and is not created for a cold key so the next read reconciles it.
var markReadScript = redis.NewScript(`
local upTo = tonumber(ARGV[1])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", upTo)
local raw = redis.call("GET", KEYS[2])
if raw then
  if upTo > tonumber(raw) then
    redis.call("SET", KEYS[2], ARGV[1], "EX", ARGV[2])
  else
    redis.call("EXPIRE", KEYS[2], ARGV[2])
  end
end
return redis.call("ZCARD", KEYS[1])
`)

// reconcileScript: ARGV[1] lastRead, ARGV[2] cutoff, ARGV[3] ttl, ARGV[4..] ids.
var reconcileScript = redis.NewScript(`
local cutoff = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", cutoff)
for i = 4, #ARGV do
  redis.call("ZADD", KEYS[1], tonumber(ARGV[i]), ARGV[i])
end
local wm = tonumber(ARGV[1])
local raw = redis.call("GET", KEYS[2])
if raw and tonumber(raw) > wm then
  wm = tonumber(raw)
end
redis.call("SET", KEYS[2], tostring(wm), "EX", ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", wm)
redis.call("EXPIRE", KEYS[1], ARGV[3])
return redis.call("ZCARD", KEYS[1])
`)

// RedisStore implements Store with one sorted set (score = message id) and
// one watermark string per key. Both keys of a counter share a hash tag.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store. ttl bounds how long an idle counter is
// cached; an expired counter is rebuilt from the database on next read.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) setKey(k Key) string {
	return fmt.Sprintf("%sunread:{%s}:%s", s.prefix, k.UserID, k.ChannelID)
}

func (s *RedisStore) watermarkKey(k Key) string {
	return fmt.Sprintf("%sunread:wm:{%s}:%s", s.prefix, k.UserID, k.ChannelID)
}

func (s *RedisStore) touchedKey() string {
	return s.prefix + "unread:touched"
}

func (s *RedisStore) ttlSeconds() int64 {
	return int64(s.ttl / time.Second)
}

func (s *RedisStore) touch(ctx context.Context, k Key) error {
	return s.client.SAdd(ctx, s.touchedKey(), k.String()).Err()
}

func (s *RedisStore) Add(ctx context.Context, k Key, msgID uint64) error {
	keys := []string{s.setKey(k), s.watermarkKey(k)}
	if err := addScript.Run(ctx, s.client, keys, strconv.FormatUint(msgID, 10), s.ttlSeconds()).Err(); err != nil {
		return wrap("add unread", err)
	}
	return wrap("touch unread", s.touch(ctx, k))
}

func (s *RedisStore) MarkRead(ctx context.Context, k Key, upTo uint64) error {
	keys := []string{s.setKey(k), s.watermarkKey(k)}
	if err := markReadScript.Run(ctx, s.client, keys, strconv.FormatUint(upTo, 10), s.ttlSeconds()).Err(); err != nil {
		return wrap("mark read", err)
	}
	return wrap("touch unread", s.touch(ctx, k))
}

func (s *RedisStore) Remove(ctx context.Context, k Key, msgID uint64) error {
	if err := s.client.ZRem(ctx, s.setKey(k), strconv.FormatUint(msgID, 10)).Err(); err != nil {
		return wrap("remove unread", err)
	}
	return wrap("touch unread", s.touch(ctx, k))
}

func (s *RedisStore) Count(ctx context.Context, k Key) (int64, bool, error) {
	pipe := s.client.Pipeline()
	card := pipe.ZCard(ctx, s.setKey(k))
	exists := pipe.Exists(ctx, s.watermarkKey(k))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, wrap("count unread", err)
	}
	return card.Val(), exists.Val() == 1, nil
}

func (s *RedisStore) Reconcile(ctx context.Context, k Key, ids []uint64, lastRead, cutoff uint64) (int64, error) {
	args := make([]any, 0, len(ids)+3)
	args = append(args, strconv.FormatUint(lastRead, 10), strconv.FormatUint(cutoff, 10), s.ttlSeconds())
	for _, id := range ids {
		args = append(args, strconv.FormatUint(id, 10))
	}

	keys := []string{s.setKey(k), s.watermarkKey(k)}
	n, err := reconcileScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return 0, wrap("reconcile unread", err)
	}
	return n, nil
}

func (s *RedisStore) Drop(ctx context.Context, k Key) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.setKey(k), s.watermarkKey(k))
	pipe.SRem(ctx, s.touchedKey(), k.String())
	_, err := pipe.Exec(ctx)
	return wrap("drop unread", err)
}

func (s *RedisStore) Touched(ctx context.Context, n int) ([]Key, error) {
	members, err := s.client.SPopN(ctx, s.touchedKey(), int64(n)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrap("pop touched", err)
	}
	keys := make([]Key, 0, len(members))
	for _, m := range members {
		if k, ok := parseKey(m); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// wrap marks redis failures as retryable.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrTransientFailure, err)
}
