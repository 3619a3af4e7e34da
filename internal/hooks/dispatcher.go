package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Kind is the mutation an event reports.
type Kind string

const (
	KindCreate Kind = "create"
	KindWrite  Kind = "write"
	KindUnlink Kind = "unlink"
)

// Event reports a successful mutation of ids of Model.
type Event struct {
	Kind  Kind
	Model string
	IDs   []int64
	// Fields lists the written fields of a write event.
	Fields []string
	// Tx is the id of the transaction that produced the event.
	Tx string
}

// Handler reacts to an event. Returned errors are logged.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	model   string
	handler Handler
}

// Dispatcher queues events and hands them to the subscribed handlers in
// FIFO order.
type Dispatcher struct {
	queue  *batchQueue
	logger *slog.Logger

	mu   sync.RWMutex
	subs []subscription
}

// NewDispatcher creates a dispatcher. A nil logger uses slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: newBatchQueue(), logger: logger}
}

// Subscribe registers h for events of model, or of every model when model
// is empty.
func (d *Dispatcher) Subscribe(model string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, subscription{model: model, handler: h})
}

// Enqueue submits an event. Safe from any goroutine. Returns false once the
// dispatcher is closed.
func (d *Dispatcher) Enqueue(ev Event) bool {
	ok := d.queue.put(ev)
	if !ok {
		d.logger.Warn("hook event dropped: dispatcher closed", "kind", ev.Kind, "model", ev.Model, "tx", ev.Tx)
	}
	return ok
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return d.queue.len()
}

// Drain delivers every queued event on the calling goroutine and returns
// how many were delivered.
func (d *Dispatcher) Drain(ctx context.Context) int {
	n := 0
	for {
		batch, _ := d.queue.take()
		if len(batch) == 0 {
			return n
		}
		d.deliverAll(ctx, batch)
		n += len(batch)
	}
}

// Run delivers events until ctx is cancelled or the dispatcher is closed
// and empty. Must be called from exactly one goroutine.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("hook dispatcher starting")
	for {
		batch, closed := d.queue.take()
		if len(batch) > 0 {
			d.deliverAll(ctx, batch)
			continue
		}
		if closed {
			d.logger.Info("hook dispatcher stopping: queue closed")
			return nil
		}

		select {
		case <-ctx.Done():
			d.logger.Info("hook dispatcher stopping: context cancelled")
			d.queue.close()
			return ctx.Err()
		case <-d.queue.ready:
		}
	}
}

// Close stops accepting events. Run returns after the queue drains.
func (d *Dispatcher) Close() {
	d.queue.close()
}

func (d *Dispatcher) deliverAll(ctx context.Context, batch []Event) {
	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, ev := range batch {
		d.deliver(ctx, subs, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, subs []subscription, ev Event) {
	for _, s := range subs {
		if s.model != "" && s.model != ev.Model {
			continue
		}
		if err := call(ctx, s.handler, ev); err != nil {
			d.logger.Error("hook failed",
				"kind", ev.Kind,
				"model", ev.Model,
				"ids", ev.IDs,
				"tx", ev.Tx,
				"error", err,
			)
		}
	}
}

// call runs h, turning a panic into an error.
func call(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return h(ctx, ev)
}
