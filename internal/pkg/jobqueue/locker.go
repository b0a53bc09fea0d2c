package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2/log"
	goredislib "github.com/redis/go-redis/v9"
)

// Locker hands out a named lock. unlock must be safe to call once.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), err error)
}

// RedsyncLocker implements Locker with a Redis mutex.
type RedsyncLocker struct {
	rs *redsync.Redsync
}

func NewRedsyncLocker(client goredislib.UniversalClient) *RedsyncLocker {
	return &RedsyncLocker{rs: redsync.New(goredis.NewPool(client))}
}

func (l *RedsyncLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	mutex := l.rs.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		if lockTaken(err) {
			return nil, ErrJobLocked
		}
		return nil, err
	}
	return func() {
		// the job context may be done by now
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			log.Warnf("[JobQueue] releasing lock %s: ok=%v err=%v", name, ok, err)
		}
	}, nil
}

// LocalLocker is an in-process Locker for tests and single-node deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrJobLocked
	}
	l.held[name] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}

func lockTaken(err error) bool {
	var taken redsync.ErrTaken
	var takenPtr *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.As(err, &takenPtr)
}
