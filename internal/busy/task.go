package busy

import (
	"context"
	"sync"
)

// task is a goroutine that can be cancelled and waited for.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startTask(parent context.Context, wg *sync.WaitGroup, fn func(ctx context.Context)) *task {
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(t.done)
		defer cancel()
		fn(ctx)
	}()
	return t
}

// stop cancels the task without waiting; the task may be the caller.
func (t *task) stop() {
	if t != nil {
		t.cancel()
	}
}
