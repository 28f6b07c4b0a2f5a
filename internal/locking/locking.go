// Package locking serializes backend writes per key. With Redis configured
// the lock is shared by every API instance; otherwise it is process-local.
package locking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/logging"
)

// ErrNotObtained is returned when the lock could not be taken in time.
var ErrNotObtained = errors.New("lock not obtained")

// Locker takes exclusive locks by key.
type Locker interface {
	// Lock blocks until key is held or ctx is done. ttl bounds how long a
	// crashed holder keeps a distributed lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// LockAll takes several keys in sorted order so concurrent callers cannot deadlock.
func LockAll(ctx context.Context, l Locker, keys []string, ttl time.Duration) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	prev := ""
	for i, k := range sorted {
		if i > 0 && k == prev {
			continue
		}
		prev = k
		unlock, err := l.Lock(ctx, k, ttl)
		if err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// Local is an in-process keyed lock.
type Local struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewLocal returns a process-local locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*keyLock)}
}

// Lock takes key. ttl is ignored.
func (l *Local) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &keyLock{sem: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-k.sem
				l.release(key, k)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, k)
		return nil, fmt.Errorf("%w: %v", ErrNotObtained, ctx.Err())
	}
}

func (l *Local) release(key string, k *keyLock) {
	l.mu.Lock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
	l.mu.Unlock()
}

// Redis is a distributed locker backed by redislock.
type Redis struct {
	client *redislock.Client
	retry  time.Duration
	log    *logrus.Entry
}

// NewRedis wraps a Redis client.
func NewRedis(rdb redis.UniversalClient, log *logrus.Logger) *Redis {
	return &Redis{
		client: redislock.New(rdb),
		retry:  50 * time.Millisecond,
		log:    logging.Or(log).WithField("component", "locking"),
	}
}

// Lock obtains "lock:"+key, retrying until ctx is done.
func (r *Redis) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := r.client.Obtain(ctx, "lock:"+key, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.WithError(err).WithField("key", key).Warn("failed to release redis lock")
		}
	}, nil
}
