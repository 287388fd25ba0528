//go:build !unix

package snapshot

import (
	"context"
	"sync"
)

// Without flock the lock only serializes writers inside this process.
var processLocks sync.Map

type fileLock struct {
	mu *sync.Mutex
}

func acquireLock(ctx context.Context, path string) (*fileLock, error) {
	v, _ := processLocks.LoadOrStore(path, &sync.Mutex{})
	mu, _ := v.(*sync.Mutex)

	locked := make(chan struct{})

	go func() {
		mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
		return &fileLock{mu: mu}, nil
	case <-ctx.Done():
		go func() {
			<-locked
			mu.Unlock()
		}()

		return nil, ctx.Err()
	}
}

func (l *fileLock) release() error {
	l.mu.Unlock()

	return nil
}
