package vellum

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner fans tasks out over a bounded number of goroutines. The first
// task error cancels the runner's context; tasks submitted after that are
// dropped and Wait reports the error.
type TaskRunner struct {
	eg          *errgroup.Group
	limiterChan chan bool
	context     context.Context
}

func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	return &TaskRunner{
		limiterChan: make(chan bool, maxThreadCount),
		eg:          eg,
		context:     ctx2,
	}
}

func (tr *TaskRunner) GetContext() context.Context {
	return tr.context
}

// Go submits a task, blocking while all thread slots are occupied. A cancelled
// runner context unblocks the submission instead of queueing dead work.
func (tr *TaskRunner) Go(task func() error) {
	select {
	case tr.limiterChan <- true:
	case <-tr.context.Done():
		tr.eg.Go(func() error { return tr.context.Err() })
		return
	}
	tr.eg.Go(func() error {
		defer func() {
			// Free up this thread slot.
			<-tr.limiterChan
		}()
		return task()
	})
}

// Wait blocks until every submitted task finished and returns the first error.
func (tr *TaskRunner) Wait() error {
	defer close(tr.limiterChan)
	return tr.eg.Wait()
}
