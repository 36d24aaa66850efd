package dataflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genoflow/genoflow/pkg/domain"
)

func tuple(key string, artifacts ...domain.Artifact) domain.Tuple {
	return domain.Tuple{Key: key, Artifacts: artifacts}
}

func TestValueChannelReplaysToEverySubscriber(t *testing.T) {
	ch := NewValue("reference")
	require.NoError(t, ch.Emit(tuple("", domain.Artifact{Name: "ref", Path: "/refs/genome.fasta"})))

	for _, consumer := range []string{"align", "bqsr", "germline"} {
		got, ok, err := ch.Subscribe(consumer).Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "/refs/genome.fasta", got.Artifacts[0].Path)
	}
}

func TestValueChannelSecondEmitIsProtocolError(t *testing.T) {
	ch := NewValue("reference")
	require.NoError(t, ch.Emit(tuple("")))

	err := ch.Emit(tuple(""))
	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "reference", perr.Channel)
}

func TestStreamPreservesEmissionOrderPerSubscriber(t *testing.T) {
	ch := NewStream("samples")
	for _, key := range []string{"S1", "S2", "S3"} {
		require.NoError(t, ch.Emit(tuple(key)))
	}
	require.NoError(t, ch.Close())

	for _, consumer := range []string{"fastqc", "trim"} {
		sub := ch.Subscribe(consumer)
		var keys []string
		for {
			got, ok, err := sub.Next(context.Background())
			require.NoError(t, err)
			if !ok {
				break
			}
			keys = append(keys, got.Key)
		}
		assert.Equal(t, []string{"S1", "S2", "S3"}, keys)
	}
}

func TestEmitAfterCloseIsProtocolError(t *testing.T) {
	ch := NewStream("samples")
	require.NoError(t, ch.Close())

	err := ch.Emit(tuple("S1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrChannelClosed))
}

func TestDoubleCloseIsProtocolError(t *testing.T) {
	ch := NewStream("samples")
	require.NoError(t, ch.Close())

	err := ch.Close()
	var perr *domain.ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestSubscribeAfterCloseYieldsEmptySequence(t *testing.T) {
	ch := NewStream("samples")
	require.NoError(t, ch.Close())

	_, ok, err := ch.Subscribe("late").Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLateSubscriberReplaysBufferedItems(t *testing.T) {
	ch := NewStream("samples")
	require.NoError(t, ch.Emit(tuple("S1")))
	require.NoError(t, ch.Emit(tuple("S2")))
	require.NoError(t, ch.Close())

	got, err := ch.Subscribe("late").Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "S1", got[0].Key)
	assert.Equal(t, "S2", got[1].Key)
}

func TestNextBlocksUntilEmit(t *testing.T) {
	ch := NewStream("samples")
	sub := ch.Subscribe("trim")

	done := make(chan domain.Tuple, 1)
	go func() {
		got, ok, err := sub.Next(context.Background())
		if err == nil && ok {
			done <- got
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Emit(tuple("S1")))

	select {
	case got := <-done:
		assert.Equal(t, "S1", got.Key)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on emit")
	}
}

func TestNextUnblocksOnContextCancel(t *testing.T) {
	ch := NewStream("samples")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := ch.Subscribe("trim").Next(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on cancel")
	}
}

func TestNextCancellationNamesSubscriberAndChannel(t *testing.T) {
	ch := NewStream("trimmed-reads")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ch.Subscribe("align").Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), `"align"`)
	assert.Contains(t, err.Error(), `"trimmed-reads"`)
}
