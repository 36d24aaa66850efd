package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/genoflow/genoflow/pkg/domain"
	"github.com/genoflow/genoflow/pkg/ports"
)

func event(t domain.EventType, node string) domain.Event {
	return domain.Event{Type: t, RunID: "run-1", Node: node, Timestamp: time.Now()}
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := New(zap.NewNop())
	ctx := context.Background()

	var got []string
	require.NoError(t, bus.Subscribe(ctx, "run.events", func(_ context.Context, e domain.Event) error {
		got = append(got, e.Node)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "run.events", event(domain.EventInstanceStarted, "trim")))
	require.NoError(t, bus.Publish(ctx, "run.events", event(domain.EventInstanceSucceeded, "trim")))
	require.NoError(t, bus.Publish(ctx, "run.events", event(domain.EventInstanceStarted, "align")))

	assert.Equal(t, []string{"trim", "trim", "align"}, got)
}

func TestPublishIsolatesTopics(t *testing.T) {
	bus := New(zap.NewNop())
	ctx := context.Background()

	var calls int
	require.NoError(t, bus.Subscribe(ctx, "run.events", func(context.Context, domain.Event) error {
		calls++
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "other", event(domain.EventInstanceStarted, "trim")))
	assert.Zero(t, calls)
}

func TestHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := New(zap.NewNop())
	ctx := context.Background()

	var reached bool
	require.NoError(t, bus.Subscribe(ctx, "run.events", func(context.Context, domain.Event) error {
		return errors.New("consumer broke")
	}))
	require.NoError(t, bus.Subscribe(ctx, "run.events", func(context.Context, domain.Event) error {
		reached = true
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "run.events", event(domain.EventInstanceStarted, "trim")))
	assert.True(t, reached)
}

func TestSubscriptionRemovedOnContextCancel(t *testing.T) {
	bus := New(zap.NewNop())
	subCtx, cancel := context.WithCancel(context.Background())

	delivered := make(chan struct{}, 8)
	require.NoError(t, bus.Subscribe(subCtx, "run.events", func(context.Context, domain.Event) error {
		delivered <- struct{}{}
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, "run.events", event(domain.EventInstanceStarted, "trim")))
	require.Len(t, delivered, 1)

	cancel()
	// Removal happens on a goroutine watching the context.
	assert.Eventually(t, func() bool {
		require.NoError(t, bus.Publish(ctx, "run.events", event(domain.EventInstanceStarted, "align")))
		return len(delivered) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClosedBusRejectsSubscribers(t *testing.T) {
	bus := New(zap.NewNop())
	require.NoError(t, bus.Close())

	err := bus.Subscribe(context.Background(), "run.events", func(context.Context, domain.Event) error {
		return nil
	})
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	// Publishing after close is a no-op, not an error.
	require.NoError(t, bus.Publish(context.Background(), "run.events", event(domain.EventRunCompleted, "")))
}

var _ ports.EventBus = (*Bus)(nil)
