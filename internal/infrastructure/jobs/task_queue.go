package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"keygate.backend/pkg/logger"
)

const (
	TaskResultDone    = "done"
	TaskResultFailed  = "failed"
	TaskResultDropped = "dropped"

	DefaultQueueSize   = 1024
	DefaultWorkers     = 2
	DefaultTaskTimeout = 5 * time.Second
)

// Task is a unit of best-effort background work.
type Task = func(ctx context.Context) error

// TaskRecorder counts task results.
type TaskRecorder interface {
	Task(result string)
}

type queuedTask struct {
	name string
	run  Task
}

// TaskQueue runs tasks on a fixed pool of workers fed by a bounded buffer.
// Submit never blocks; tasks that do not fit are dropped.
type TaskQueue struct {
	tasks    chan queuedTask
	workers  int
	timeout  time.Duration
	recorder TaskRecorder

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewTaskQueue(size, workers int, timeout time.Duration, recorder TaskRecorder) *TaskQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &TaskQueue{
		tasks:    make(chan queuedTask, size),
		workers:  workers,
		timeout:  timeout,
		recorder: recorder,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *TaskQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	logger.Info(context.Background(), "Task queue started",
		zap.Int("workers", q.workers),
		zap.Int("capacity", cap(q.tasks)),
	)
}

// Submit enqueues task and reports whether it was accepted.
func (q *TaskQueue) Submit(name string, task Task) bool {
	if q == nil || task == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.record(TaskResultDropped)
		return false
	}
	select {
	case q.tasks <- queuedTask{name: name, run: task}:
		return true
	default:
		q.record(TaskResultDropped)
		logger.Debug(context.Background(), "Task queue full, dropping task", zap.String("task", name))
		return false
	}
}

// Stop rejects new tasks, runs what is already queued and waits for the
// workers to exit.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	started := q.started
	q.mu.Unlock()

	if !started {
		for t := range q.tasks {
			q.run(t)
		}
		return
	}
	q.wg.Wait()
	logger.Info(context.Background(), "Task queue stopped")
}

// Pending is the number of queued tasks not yet picked up.
func (q *TaskQueue) Pending() int {
	return len(q.tasks)
}

func (q *TaskQueue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *TaskQueue) run(t queuedTask) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return t.run(ctx)
	}()

	if err != nil {
		q.record(TaskResultFailed)
		logger.Warn(ctx, "Background task failed", zap.String("task", t.name), zap.Error(err))
		return
	}
	q.record(TaskResultDone)
}

func (q *TaskQueue) record(result string) {
	if q.recorder != nil {
		q.recorder.Task(result)
	}
}
