package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// Background runs fire-and-forget tasks (history logging, report mirroring,
// notifications) on a single dedicated worker. The critical path never waits
// on a task; failures are logged centrally rather than lost.
type Background struct {
	logger *slog.Logger
	tasks  chan backgroundTask
	wg     sync.WaitGroup
	once   sync.Once
}

type backgroundTask struct {
	name string
	fn   func(ctx context.Context) error
}

func NewBackground(logger *slog.Logger) *Background {
	b := &Background{
		logger: logger,
		tasks:  make(chan backgroundTask, 64),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *Background) run() {
	defer b.wg.Done()
	for t := range b.tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("panic in background task", "task", t.name, "error", r)
				}
			}()
			if err := t.fn(context.Background()); err != nil {
				b.logger.Warn("background task failed", "task", t.name, "error", err)
			}
		}()
	}
}

// Submit enqueues a task. Blocks only if the queue is full, which
// backpressures the producer instead of dropping work.
func (b *Background) Submit(name string, fn func(ctx context.Context) error) {
	b.tasks <- backgroundTask{name: name, fn: fn}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (b *Background) Close() {
	b.once.Do(func() { close(b.tasks) })
	b.wg.Wait()
}
