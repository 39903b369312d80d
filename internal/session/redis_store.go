package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "session:data:"
	redisUserPrefix    = "session:user:"
	redisScanBatch     = 100
)

// RedisStore keeps each session as a JSON value with a native TTL equal to the
// idle timeout, plus a per-user set index. Index members whose value expired
// are pruned lazily by ListByUser.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) sessionKey(id string) string {
	return redisSessionPrefix + id
}

func (s *RedisStore) userKey(userID string) string {
	return redisUserPrefix + userID
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, bool, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return sess, true, nil
}

func (s *RedisStore) Put(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), raw, s.ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, s.userKey(sess.UserID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	sess, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.sessionKey(id))
		pipe.SRem(ctx, s.userKey(sess.UserID), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return del.Val() > 0, nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sessions, missing, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		members := make([]interface{}, len(missing))
		for i, id := range missing {
			members[i] = id
		}
		if err := s.client.SRem(ctx, s.userKey(userID), members...).Err(); err != nil {
			return nil, fmt.Errorf("prune user index: %w", err)
		}
	}
	return sessions, nil
}

func (s *RedisStore) Scan(ctx context.Context, fn func(Session) bool) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisSessionPrefix+"*", redisScanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan sessions: %w", err)
		}

		if len(keys) > 0 {
			ids := make([]string, len(keys))
			for i, key := range keys {
				ids[i] = key[len(redisSessionPrefix):]
			}
			sessions, _, err := s.load(ctx, ids)
			if err != nil {
				return err
			}
			for _, sess := range sessions {
				if !fn(sess) {
					return nil
				}
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// load fetches sessions by id, reporting ids whose key no longer exists.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]Session, []string, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load sessions: %w", err)
	}

	sessions := make([]Session, 0, len(values))
	var missing []string
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			return nil, nil, fmt.Errorf("decode session %s: %w", ids[i], err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, missing, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
