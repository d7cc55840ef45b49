// Package redislock provides a single-holder lock on a Redis key, used to
// keep periodic jobs single-flight across processes.
// This is part of the platform layer and contains no business logic.
package redislock

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrNotHeld is returned by a release func when the lock already expired.
var ErrNotHeld = errors.New("redis lock not held")

// Lock guards one key.
type Lock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// New creates a lock on key. The ttl bounds how long a crashed holder can
// block other processes.
func New(client redis.Cmdable, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lock{client: client, key: key, ttl: ttl}
}

// TryLock attempts to take the lock without waiting. ok is false when another
// holder owns it. The returned release func must be called once.
func (l *Lock) TryLock(ctx context.Context) (release func(context.Context) error, ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
		if err != nil {
			return err
		}
		if deleted == 0 {
			return ErrNotHeld
		}
		return nil
	}
	return release, true, nil
}

// NewClient builds a go-redis client from a redis:// or rediss:// URL.
func NewClient(redisURL string, tlsInsecure bool) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if tlsInsecure {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opt), nil
}
