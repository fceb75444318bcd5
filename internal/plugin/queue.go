package plugin

import (
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned when an operation is submitted after Close.
var ErrQueueClosed = errors.New("operation queue closed")

// defaultQueueDepth bounds how many operations may wait at once. Submitters
// block rather than fail when the queue is full.
const defaultQueueDepth = 64

type operation struct {
	name string
	run  func() error
	done chan error
}

// opQueue serializes mutating operations through a single worker goroutine.
// Operations run strictly in submission order; a failed operation never
// stops the worker.
type opQueue struct {
	// mu guards closed and protects sends against a concurrent close of
	// the ops channel.
	mu     sync.RWMutex
	closed bool

	ops     chan *operation
	drained chan struct{}
}

func newOpQueue(depth int) *opQueue {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	q := &opQueue{
		ops:     make(chan *operation, depth),
		drained: make(chan struct{}),
	}
	go q.worker()
	return q
}

func (q *opQueue) worker() {
	defer close(q.drained)
	for op := range q.ops {
		op.done <- runOperation(op)
	}
}

// runOperation isolates panics so one broken operation cannot kill the
// worker loop.
func runOperation(op *operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", op.name, r)
		}
	}()
	return op.run()
}

// submit enqueues fn and blocks until its turn completes.
func (q *opQueue) submit(name string, fn func() error) error {
	op := &operation{name: name, run: fn, done: make(chan error, 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.ops <- op
	q.mu.RUnlock()

	return <-op.done
}

// close stops accepting operations and waits for queued ones to finish.
func (q *opQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ops)
	}
	q.mu.Unlock()
	<-q.drained
}
