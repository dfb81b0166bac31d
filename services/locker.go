package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// Lock is a held mutual-exclusion lock
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker hands out named locks. Obtain fails with ErrLockHeld when another
// worker holds the name.
type Locker interface {
	Obtain(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// RedsyncLocker shares locks across processes through Redis
type RedsyncLocker struct {
	rs *redsync.Redsync
}

func NewRedsyncLocker(client *redis.Client) *RedsyncLocker {
	pool := goredis.NewPool(client)
	return &RedsyncLocker{rs: redsync.New(pool)}
}

func (l *RedsyncLocker) Obtain(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1), // one attempt; a held lock means another run owns this batch
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, name, err)
	}
	return &redsyncLock{mutex: mutex}, nil
}

type redsyncLock struct {
	mutex *redsync.Mutex
}

func (l *redsyncLock) Unlock(ctx context.Context) error {
	if ok, err := l.mutex.UnlockContext(ctx); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("lock %s expired before unlock", l.mutex.Name())
	}
	return nil
}

// LocalLocker serializes within one process. It is used when Redis is not
// configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) Obtain(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until, ok := l.held[name]; ok && time.Now().Before(until) {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, name)
	}
	l.held[name] = time.Now().Add(ttl)
	return &localLock{locker: l, name: name}, nil
}

type localLock struct {
	locker *LocalLocker
	name   string
}

func (l *localLock) Unlock(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.name)
	return nil
}
