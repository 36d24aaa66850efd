package dataflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/genoflow/genoflow/pkg/domain"
)

// Kind distinguishes value channels from stream channels.
type Kind int

const (
	// Value channels hold exactly one item and replay it to every subscriber.
	Value Kind = iota
	// Stream channels hold an ordered sequence of keyed tuples, each
	// delivered once per subscriber in emission order.
	Stream
)

func (k Kind) String() string {
	if k == Value {
		return "value"
	}
	return "stream"
}

// Channel is a named conduit between one producer and any number of
// subscribers. The producer is bound at graph construction; emission order is
// preserved and items are never reordered.
type Channel struct {
	name string
	kind Kind

	mu     sync.Mutex
	cond   *sync.Cond
	items  []domain.Tuple
	closed bool
}

// NewValue creates a value channel.
func NewValue(name string) *Channel { return newChannel(name, Value) }

// NewStream creates a stream channel.
func NewStream(name string) *Channel { return newChannel(name, Stream) }

func newChannel(name string, kind Kind) *Channel {
	c := &Channel{name: name, kind: kind}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Name returns the channel identity used by the DAG builder.
func (c *Channel) Name() string { return c.name }

// Kind returns whether this is a value or stream channel.
func (c *Channel) Kind() Kind { return c.kind }

// Emit appends an item to a stream channel, or sets a value channel's single
// slot. Setting a value channel also closes it: the one item is final.
func (c *Channel) Emit(t domain.Tuple) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &domain.ProtocolError{Channel: c.name, Err: domain.ErrChannelClosed}
	}
	if c.kind == Value {
		if len(c.items) > 0 {
			return &domain.ProtocolError{Channel: c.name, Err: domain.ErrValueAlreadySet}
		}
		c.items = append(c.items, t)
		c.closed = true
		c.cond.Broadcast()
		return nil
	}

	c.items = append(c.items, t)
	c.cond.Broadcast()
	return nil
}

// Close marks that no further items will be emitted. Closing twice is a
// protocol error for stream channels; value channels close on Emit.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if c.kind == Value {
			return nil
		}
		return &domain.ProtocolError{Channel: c.name, Err: fmt.Errorf("double close: %w", domain.ErrChannelClosed)}
	}
	c.closed = true
	c.cond.Broadcast()
	return nil
}

// Len returns the number of items emitted so far.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Subscribe registers a consumer and returns its private cursor over the
// channel. Value channels replay their single item to every subscription;
// stream channels deliver each item once per subscription. Subscribing to an
// already-closed-and-drained stream yields an empty sequence, not an error.
func (c *Channel) Subscribe(consumerID string) *Subscription {
	return &Subscription{ch: c, consumer: consumerID}
}

// Subscription is a lazy, per-consumer sequence of channel items.
type Subscription struct {
	ch       *Channel
	consumer string
	pos      int
}

// Next blocks until an item is available, the channel is closed and drained,
// or ctx is done. The second return is false when the sequence has ended.
func (s *Subscription) Next(ctx context.Context) (domain.Tuple, bool, error) {
	c := s.ch

	// Wake the condition wait if the caller gives up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-stop:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if s.pos < len(c.items) {
			t := c.items[s.pos]
			s.pos++
			return t, true, nil
		}
		if c.closed {
			return domain.Tuple{}, false, nil
		}
		if err := ctx.Err(); err != nil {
			return domain.Tuple{}, false, fmt.Errorf("subscriber %q waiting on channel %q: %w", s.consumer, c.name, err)
		}
		c.cond.Wait()
	}
}

// Drain reads the remaining items until the channel closes.
func (s *Subscription) Drain(ctx context.Context) ([]domain.Tuple, error) {
	var out []domain.Tuple
	for {
		t, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, t)
	}
}
