package app

import (
	"context"
	"sync"
)

// gameLocks hands out one mutual-exclusion slot per game id. Waiting honours context
// cancellation, and an entry is dropped once nobody holds or waits for it.
type gameLocks struct {
	mu    sync.Mutex
	locks map[string]*gameLock
}

type gameLock struct {
	slot chan struct{}
	refs int
}

func newGameLocks() *gameLocks {
	return &gameLocks{locks: make(map[string]*gameLock)}
}

// acquire blocks until the game's slot is free or ctx is done. The returned release
// func may be called more than once.
func (l *gameLocks) acquire(ctx context.Context, gameID string) (func(), error) {
	l.mu.Lock()
	gl, ok := l.locks[gameID]
	if !ok {
		gl = &gameLock{slot: make(chan struct{}, 1)}
		l.locks[gameID] = gl
	}
	gl.refs++
	l.mu.Unlock()

	select {
	case gl.slot <- struct{}{}:
	case <-ctx.Done():
		l.unref(gameID, gl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-gl.slot
			l.unref(gameID, gl)
		})
	}, nil
}

func (l *gameLocks) unref(gameID string, gl *gameLock) {
	l.mu.Lock()
	gl.refs--
	if gl.refs == 0 {
		delete(l.locks, gameID)
	}
	l.mu.Unlock()
}

// size reports how many games currently have holders or waiters.
func (l *gameLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
