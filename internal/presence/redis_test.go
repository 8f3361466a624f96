package presence

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"hermes/server/internal/testutil"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	// Without Docker the Redis tests skip; the Memory tests still run.
	if err := testutil.CheckDocker(ctx); err != nil {
		log.Printf("redis container unavailable: %v", err)
		return m.Run()
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Printf("failed to start redis container: %v", err)
		return 1
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	}()

	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		log.Printf("failed to get endpoint: %v", err)
		return 1
	}
	testRedis = redis.NewClient(&redis.Options{Addr: addr})
	defer testRedis.Close()

	if err := testRedis.Ping(ctx).Err(); err != nil {
		log.Printf("failed to ping redis: %v", err)
		return 1
	}
	return m.Run()
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	if testRedis == nil {
		t.Skip("docker is not available")
	}
	t.Cleanup(func() {
		require.NoError(t, testRedis.FlushDB(context.Background()).Err())
	})
	return NewRedis(testRedis, "test")
}

func TestRedisFirstAndLastConnection(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	stamp := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return stamp }

	first, err := r.Connect(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = r.Connect(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, first)

	online, err := r.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)

	last, err := r.Disconnect(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, last)
	seen, _ := r.LastSeen(ctx, "alice")
	assert.True(t, seen.IsZero(), "still connected from another tab")

	last, err = r.Disconnect(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, last)

	online, _ = r.IsOnline(ctx, "alice")
	assert.False(t, online)
	seen, err = r.LastSeen(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, stamp, seen)
}

func TestRedisDisconnectWithoutConnect(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	last, err := r.Disconnect(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, last)

	seen, _ := r.LastSeen(ctx, "ghost")
	assert.True(t, seen.IsZero())

	first, err := r.Connect(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, first, "a stray disconnect leaves no negative counter")
}

func TestRedisResetConnections(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	for _, u := range []string{"alice", "bob", "bob"} {
		_, err := r.Connect(ctx, u)
		require.NoError(t, err)
	}
	require.NoError(t, testRedis.Set(ctx, "other:key", "keep", 0).Err())

	require.NoError(t, r.ResetConnections(ctx))

	for _, u := range []string{"alice", "bob"} {
		online, err := r.IsOnline(ctx, u)
		require.NoError(t, err)
		assert.False(t, online)
	}
	assert.Equal(t, "keep", testRedis.Get(ctx, "other:key").Val())

	first, err := r.Connect(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, first)
}
