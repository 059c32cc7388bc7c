package cycler

import (
	"time"

	"github.com/fieldcycler/runtime/internal/futurequeue"
)

// Producer is a Perception cycler's announce/finalize side: it reserves
// the current tick's timestamp up front (Announce) and supplies the
// computed value once the tick's modules finish (Finalize). Every
// registered Consumer observes the same announce/finalize sequence
// through its own internal/futurequeue.Queue, so one RealTime reader
// draining its queue never starves another.
type Producer[T any] struct {
	consumers     []*futurequeue.Queue[T]
	lastAnnounced time.Time
	hasAnnounced  bool
}

func NewProducer[T any]() *Producer[T] { return &Producer[T]{} }

// NewConsumer registers and returns a new independent reader of this
// producer's finalized outputs.
func (p *Producer[T]) NewConsumer() *Consumer[T] {
	q := futurequeue.NewQueue[T]()
	p.consumers = append(p.consumers, q)
	return &Consumer[T]{queue: q}
}

const producerKey = "own"

// Announce reserves timestamp t for the value this tick will finalize.
func (p *Producer[T]) Announce(t time.Time) error {
	for _, q := range p.consumers {
		if err := q.Announce(producerKey, t); err != nil {
			return err
		}
	}
	p.lastAnnounced = t
	p.hasAnnounced = true
	return nil
}

// Finalize supplies the value for the most recently announced timestamp.
func (p *Producer[T]) Finalize(value T) error {
	if !p.hasAnnounced {
		return errNotAnnounced
	}
	for _, q := range p.consumers {
		if err := q.Finalize(producerKey, p.lastAnnounced, value); err != nil {
			return err
		}
	}
	p.hasAnnounced = false
	return nil
}

// Consumer is one RealTime cycler's independent view of a Producer's
// finalized outputs.
type Consumer[T any] struct {
	queue *futurequeue.Queue[T]
}

// Consume drains every output finalized so far, in timestamp order.
func (c *Consumer[T]) Consume(now time.Time) []futurequeue.Entry[T] {
	return c.queue.Drain()
}
