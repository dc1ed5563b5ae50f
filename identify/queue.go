package identify

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// TaskState is the life-cycle state of a Task.
type TaskState int

const (
	// Queued tasks wait in the queue.
	Queued TaskState = iota
	// Assigned tasks have been taken by a worker.
	Assigned
	// Running tasks are being processed.
	Running
	// Committed tasks finished and their results are durable.
	Committed
	// Failed tasks stopped with an error.
	Failed
)

func (s TaskState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Assigned:
		return "assigned"
	case Running:
		return "running"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// Task is one sample file to identify.
type Task struct {
	// Path is the read file.
	Path string
	Meta SampleMetadata

	mu    sync.Mutex
	state TaskState
	err   error
}

// State returns the task's state and, for failed tasks, the error.
func (t *Task) State() (TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.err
}

func (t *Task) set(s TaskState, err error) {
	t.mu.Lock()
	t.state, t.err = s, err
	t.mu.Unlock()
}

// Worker processes tasks. A worker is used by one goroutine at a time.
type Worker interface {
	// DoTask processes one task.
	DoTask(ctx context.Context, t *Task) error
	// Cleanup releases the worker's resources once the queue is drained.
	Cleanup() error
}

// TaskQueue hands tasks to a fixed pool of workers.
type TaskQueue struct {
	tasks []*Task
}

// Add queues a task.
func (q *TaskQueue) Add(t *Task) {
	t.set(Queued, nil)
	q.tasks = append(q.tasks, t)
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int { return len(q.tasks) }

// Tasks returns the tasks in the order they were added.
func (q *TaskQueue) Tasks() []*Task { return q.tasks }

// Run processes every task with the given workers, each on its own
// goroutine pulling from one shared channel. A failing task is logged and
// marked Failed; its worker goes on with the next task. Run returns once
// every worker has drained the queue and been cleaned up. The error is the
// first task or cleanup failure.
func (q *TaskQueue) Run(ctx context.Context, workers []Worker) error {
	if len(workers) == 0 {
		return errors.E(errors.Invalid, "no workers")
	}
	ch := make(chan *Task, len(q.tasks))
	for _, t := range q.tasks {
		ch <- t
	}
	close(ch)
	var e errors.Once
	err := traverse.Each(len(workers), func(i int) error {
		w := workers[i]
		for t := range ch {
			t.set(Assigned, nil)
			if err := ctx.Err(); err != nil {
				t.set(Failed, err)
				e.Set(err)
				continue
			}
			t.set(Running, nil)
			if err := w.DoTask(ctx, t); err != nil {
				log.Error.Printf("worker %d: %s: %v", i, t.Path, err)
				t.set(Failed, err)
				e.Set(errors.E(err, t.Path))
				continue
			}
			t.set(Committed, nil)
		}
		if err := w.Cleanup(); err != nil {
			log.Error.Printf("worker %d: cleanup: %v", i, err)
			e.Set(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.Err()
}
