package alerts

import (
	"context"
	"fmt"
	"os"
)

// DeliverFunc receives a raised alert on the Center's delivery
// goroutine. Implementations may block; they only delay other
// deliveries, never the raising code.
type DeliverFunc func(Alert)

// Center routes raised alerts. Every event lands in the bounded pending
// queue for pickup over the command bridge and is mirrored to the
// delivery goroutine, which feeds the journal and the webhook
// dispatcher. Raise never blocks regardless of delivery backlog.
type Center struct {
	queue   *Queue
	feed    chan Alert
	deliver []DeliverFunc
}

// NewCenter builds a center around a fresh queue. The delivery functions
// run in order for each alert.
func NewCenter(deliver ...DeliverFunc) *Center {
	return &Center{
		queue:   NewQueue(),
		feed:    make(chan Alert, QueueCapacity),
		deliver: deliver,
	}
}

// Queue exposes the pending queue for the bridge's read-alert handler.
func (c *Center) Queue() *Queue { return c.queue }

// Raise enqueues a for the bridge and hands a copy to the delivery
// goroutine. Safe from any context; when the delivery feed is full the
// side effects for this alert are skipped rather than waited for.
func (c *Center) Raise(a Alert) {
	c.queue.Enqueue(a)
	select {
	case c.feed <- a:
	default:
		// Delivery is best effort. The pending queue still has the
		// record, so the bridge reader sees it even when webhooks lag.
	}
}

// Run consumes the delivery feed until ctx is cancelled. Alerts already
// in the feed at cancellation are delivered before Run returns.
func (c *Center) Run(ctx context.Context) {
	for {
		select {
		case a := <-c.feed:
			c.dispatch(a)
		case <-ctx.Done():
			for {
				select {
				case a := <-c.feed:
					c.dispatch(a)
				default:
					return
				}
			}
		}
	}
}

func (c *Center) dispatch(a Alert) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "alerts: delivery panic: %v\n", r)
		}
	}()
	for _, fn := range c.deliver {
		fn(a)
	}
}
