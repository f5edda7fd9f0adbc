package executor

import "context"

// gate is the counting admission gate bounding how many stages of a run
// execute at once. Stages acquire a slot after being dispatched, so
// queue wait is observable, and release it when their tool finishes.
type gate struct {
	slots chan struct{}
}

func newGate(size int) *gate {
	if size < 1 {
		size = 1
	}
	return &gate{slots: make(chan struct{}, size)}
}

// Acquire blocks until a slot frees or ctx ends.
func (g *gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Must follow a successful Acquire.
func (g *gate) Release() {
	<-g.slots
}

// Inflight returns the number of held slots.
func (g *gate) Inflight() int { return len(g.slots) }

// Size returns the gate capacity.
func (g *gate) Size() int { return cap(g.slots) }
