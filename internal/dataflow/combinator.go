package dataflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/genoflow/genoflow/pkg/domain"
)

// KeyedJoin buffers tuples from n independent inputs indexed by key until a
// complete set (one tuple per input, same key) is available. At most one tuple
// per key per input is expected; a duplicate is a protocol error.
type KeyedJoin struct {
	n int

	mu      sync.Mutex
	pending map[string][]*domain.Tuple
	emitted map[string]bool
}

// NewKeyedJoin creates a join over n inputs.
func NewKeyedJoin(n int) *KeyedJoin {
	return &KeyedJoin{
		n:       n,
		pending: make(map[string][]*domain.Tuple),
		emitted: make(map[string]bool),
	}
}

// Offer records a tuple arriving on input slot i. When the key now has a
// tuple from every input, the merged tuple is returned, the buffered entries
// are evicted, and further arrivals for the key are rejected.
func (j *KeyedJoin) Offer(i int, t domain.Tuple) (domain.Tuple, bool, error) {
	if i < 0 || i >= j.n {
		return domain.Tuple{}, false, fmt.Errorf("join: input slot %d out of range [0,%d)", i, j.n)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.emitted[t.Key] {
		return domain.Tuple{}, false, &domain.ProtocolError{
			Channel: t.Key,
			Err:     fmt.Errorf("duplicate key %q after join emission", t.Key),
		}
	}
	slots, ok := j.pending[t.Key]
	if !ok {
		slots = make([]*domain.Tuple, j.n)
		j.pending[t.Key] = slots
	}
	if slots[i] != nil {
		return domain.Tuple{}, false, &domain.ProtocolError{
			Channel: t.Key,
			Err:     fmt.Errorf("duplicate key %q on join input %d", t.Key, i),
		}
	}
	cp := t
	slots[i] = &cp

	for _, s := range slots {
		if s == nil {
			return domain.Tuple{}, false, nil
		}
	}

	parts := make([]domain.Tuple, 0, j.n)
	for _, s := range slots {
		parts = append(parts, *s)
	}
	delete(j.pending, t.Key)
	j.emitted[t.Key] = true
	return domain.MergeTuples(parts...), true, nil
}

// Starved returns, sorted, the keys that arrived on some inputs but never
// completed across all of them.
func (j *KeyedJoin) Starved() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	keys := make([]string, 0, len(j.pending))
	for k := range j.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Join consumes every input stream, merges tuples by key and emits each
// complete set exactly once on out. It returns the starved keys once all
// inputs are drained; out is closed before returning. A key missing from one
// input produces no emission for that key.
func Join(ctx context.Context, consumerID string, out *Channel, inputs ...*Channel) ([]string, error) {
	kj := NewKeyedJoin(len(inputs))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, in := range inputs {
		wg.Add(1)
		go func(slot int, sub *Subscription) {
			defer wg.Done()
			for {
				t, ok, err := sub.Next(ctx)
				if err != nil || !ok {
					mu.Lock()
					if err != nil && firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				merged, complete, err := kj.Offer(slot, t)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				if complete {
					if err := out.Emit(merged); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						return
					}
				}
			}
		}(i, in.Subscribe(fmt.Sprintf("%s[%d]", consumerID, i)))
	}
	wg.Wait()

	if err := out.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return kj.Starved(), firstErr
}

// Broadcast returns n independent subscriptions over the same source so one
// producer's output can feed several unrelated consumers without re-executing
// the producer.
func Broadcast(ch *Channel, consumerID string, n int) []*Subscription {
	subs := make([]*Subscription, n)
	for i := range subs {
		subs[i] = ch.Subscribe(fmt.Sprintf("%s[%d]", consumerID, i))
	}
	return subs
}

// CollectAll buffers an entire stream until its producer closes it, then
// returns the whole buffered sequence merged into a single tuple. Used where
// a downstream stage must see every sample's artifact at once.
func CollectAll(ctx context.Context, consumerID string, ch *Channel) (domain.Tuple, error) {
	tuples, err := ch.Subscribe(consumerID).Drain(ctx)
	if err != nil {
		return domain.Tuple{}, err
	}
	merged := domain.MergeTuples(tuples...)
	// The aggregate loses its per-sample identity.
	merged.Key = ""
	merged.Sample = nil
	return merged, nil
}
