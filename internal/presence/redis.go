package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the connection counter and last-seen stamp in Redis so the
// numbers survive a restart of the process holding the sockets.
//
// Keys:
//   - <prefix>:presence:conns:<username> live connection count
//   - <prefix>:presence:seen:<username>  unix seconds of the last disconnect
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ Tracker = (*Redis)(nil)

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) connKey(username string) string {
	return fmt.Sprintf("%s:presence:conns:%s", r.prefix, username)
}

func (r *Redis) seenKey(username string) string {
	return fmt.Sprintf("%s:presence:seen:%s", r.prefix, username)
}

func (r *Redis) Connect(ctx context.Context, username string) (bool, error) {
	n, err := r.client.Incr(ctx, r.connKey(username)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var decrScript = redis.NewScript(`
local n = redis.call("DECR", KEYS[1])
if n < 0 then
  redis.call("DEL", KEYS[1])
  return 0
end
if n == 0 then
  redis.call("DEL", KEYS[1])
  redis.call("SET", KEYS[2], ARGV[1])
  return 1
end
return 0
`)

func (r *Redis) Disconnect(ctx context.Context, username string) (bool, error) {
	last, err := decrScript.Run(ctx, r.client,
		[]string{r.connKey(username), r.seenKey(username)},
		r.now().Unix()).Int()
	if err != nil {
		return false, err
	}
	return last == 1, nil
}

func (r *Redis) IsOnline(ctx context.Context, username string) (bool, error) {
	n, err := r.client.Get(ctx, r.connKey(username)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) LastSeen(ctx context.Context, username string) (time.Time, error) {
	sec, err := r.client.Get(ctx, r.seenKey(username)).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

// ResetConnections clears stale counters left by a crashed process.
func (r *Redis) ResetConnections(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.connKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
