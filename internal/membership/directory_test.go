package membership

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/platform/storage"
)

func directories(t *testing.T) map[string]Directory {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dirs := map[string]Directory{
		"memory": NewMemoryDirectory(),
		"sqlite": NewSQLDirectory(db),
	}
	if rdb := redisClient(t); rdb != nil {
		prefix := "ledger-test:" + uuid.NewString()
		t.Cleanup(func() {
			keys, _ := rdb.Keys(context.Background(), prefix+":*").Result()
			if len(keys) > 0 {
				rdb.Del(context.Background(), keys...)
			}
		})
		dirs["redis"] = NewRedisDirectory(rdb, prefix)
	}
	return dirs
}

// redisClient connects to TEST_REDIS_ADDR (default localhost:6379), returning nil when Redis is
// not reachable so the other directories still run.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Logf("redis not available at %s, skipping redis directory: %v", addr, err)
		return nil
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisDirectory_Prefixes(t *testing.T) {
	rdb := redisClient(t)
	if rdb == nil {
		t.Skip("redis not available")
	}
	ctx := context.Background()
	first := NewRedisDirectory(rdb, "ledger-test:"+uuid.NewString())
	second := NewRedisDirectory(rdb, "ledger-test:"+uuid.NewString())
	t.Cleanup(func() {
		for _, d := range []*RedisDirectory{first, second} {
			keys, _ := rdb.Keys(context.Background(), d.prefix+":*").Result()
			if len(keys) > 0 {
				rdb.Del(context.Background(), keys...)
			}
		}
	})

	user, err := NewUser("Ada", "", day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	require.NoError(t, first.CreateUser(ctx, user))

	got, err := first.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = second.GetUser(ctx, user.ID)
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
	users, err := second.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestService_RegisterGetList(t *testing.T) {
	for name, dir := range directories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(dir, nil)

			ada, err := svc.RegisterUser(ctx, "Ada", "ada@example.com", day("2024-01-01"), day("2024-12-31"))
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
			bob, err := svc.RegisterUser(ctx, "Bob", "bob@example.com", day("2024-02-01"), day("2024-03-01"))
			require.NoError(t, err)

			got, err := svc.GetUser(ctx, ada.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Name)
			assert.True(t, day("2024-01-01").Equal(got.MembershipStartDate))
			assert.True(t, day("2024-12-31").Equal(got.MembershipExpiryDate))

			users, err := svc.ListUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 2)
			assert.Equal(t, ada.ID, users[0].ID)
			assert.Equal(t, bob.ID, users[1].ID)

			_, err = svc.GetUser(ctx, uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

			_, err = svc.RegisterUser(ctx, "Eve", "", day("2024-03-01"), day("2024-02-01"))
			assert.ErrorIs(t, err, apperrors.ErrInvalidMembership)
		})
	}
}
