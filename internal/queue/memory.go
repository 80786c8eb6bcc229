package queue

import "context"

// InMemoryQueue is a channel-backed queue for tests and single-process
// development runs.
type InMemoryQueue struct {
	ch chan Activation
}

func NewInMemoryQueue(buffer int) *InMemoryQueue {
	return &InMemoryQueue{ch: make(chan Activation, buffer)}
}

func (q *InMemoryQueue) Publish(ctx context.Context, act Activation) error {
	select {
	case q.ch <- act:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs handler for each published activation until ctx is cancelled.
func (q *InMemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case act := <-q.ch:
			_ = handler(ctx, act)
		}
	}
}

// Len reports the number of queued activations.
func (q *InMemoryQueue) Len() int { return len(q.ch) }

var _ Queue = (*InMemoryQueue)(nil)
