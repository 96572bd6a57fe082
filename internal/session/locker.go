package session

import (
	"context"
	"sync"
)

// Locker serialises work per conversation id.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*convLock)}
}

// Lock blocks until the conversation is free or ctx is done. The returned
// function releases the lock.
func (l *Locker) Lock(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	cl, ok := l.locks[conversationID]
	if !ok {
		cl = &convLock{ch: make(chan struct{}, 1)}
		l.locks[conversationID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	select {
	case cl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(conversationID, cl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-cl.ch
			l.release(conversationID, cl)
		})
	}, nil
}

func (l *Locker) release(id string, cl *convLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl.refs--
	if cl.refs == 0 {
		delete(l.locks, id)
	}
}

// Held returns the number of conversations with a holder or waiter.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
