// internal/membership/redis.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	apperrors "lendingledger/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisDirectory stores each user as a JSON document plus an index set of ids.
type RedisDirectory struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisDirectory returns a directory using keys under prefix (default "ledger").
func NewRedisDirectory(rdb redis.UniversalClient, prefix string) *RedisDirectory {
	if prefix == "" {
		prefix = "ledger"
	}
	return &RedisDirectory{rdb: rdb, prefix: prefix}
}

func (d *RedisDirectory) userKey(id uuid.UUID) string {
	return d.prefix + ":user:" + id.String()
}

func (d *RedisDirectory) indexKey() string {
	return d.prefix + ":users"
}

func (d *RedisDirectory) CreateUser(ctx context.Context, user User) error {
	doc, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	_, err = d.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, d.userKey(user.ID), doc, 0)
		pipe.SAdd(ctx, d.indexKey(), user.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

func (d *RedisDirectory) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	doc, err := d.rdb.Get(ctx, d.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return User{}, apperrors.ErrUserNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}

	var user User
	if err := json.Unmarshal(doc, &user); err != nil {
		return User{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	return user, nil
}

func (d *RedisDirectory) ListUsers(ctx context.Context) ([]User, error) {
	ids, err := d.rdb.SMembers(ctx, d.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	if len(ids) == 0 {
		return []User{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, d.prefix+":user:"+id)
	}

	docs, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}

	users := make([]User, 0, len(docs))
	for _, doc := range docs {
		s, ok := doc.(string)
		if !ok {
			continue
		}
		var user User
		if err := json.UnmarshalFromString(s, &user); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, user)
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}
