package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/segflow/internal/types"
)

func TestQueueReportsFullAtCapacity(t *testing.T) {
	q := New("test", 2)

	require.NoError(t, q.TrySend(types.NewTerminal()))
	require.NoError(t, q.TrySend(types.NewTerminal()))
	assert.ErrorIs(t, q.TrySend(types.NewTerminal()), ErrFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "test", q.Name())
	assert.Equal(t, 2, q.Cap())
}

func TestQueuePreservesOrder(t *testing.T) {
	q := New("test", 3)
	params := types.NewRoutingParams("out", "a.png", 4, 4)

	first := types.NewFailed(params, "first", nil)
	second := types.NewFailed(params, "second", nil)
	third := types.NewTerminal()
	for _, env := range []*types.Envelope{first, second, third} {
		require.NoError(t, q.TrySend(env))
	}

	ctx := context.Background()
	for _, want := range []*types.Envelope{first, second, third} {
		got, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
}

func TestQueueClosed(t *testing.T) {
	q := New("test", 1)
	require.NoError(t, q.TrySend(types.NewTerminal()))
	q.Close()
	q.Close() // idempotent

	assert.ErrorIs(t, q.TrySend(types.NewTerminal()), ErrClosed)

	// Buffered envelope is still delivered, then the closed status.
	env, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.True(t, env.IsTerminal())

	_, err = q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueReceiveHonorsContext(t *testing.T) {
	q := New("test", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClampsCapacity(t *testing.T) {
	assert.Equal(t, 1, New("zero", 0).Cap())
}
