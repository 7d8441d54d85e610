package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFOAcrossGrowth(t *testing.T) {
	q := NewRingQueue[int](2)

	q.Enqueue(1)
	q.Enqueue(2)
	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// wraps, then grows while wrapped
	q.Enqueue(3)
	q.Enqueue(4)
	q.Enqueue(5)
	require.Equal(t, 4, q.Len())

	third, err := q.At(2)
	require.NoError(t, err)
	assert.Equal(t, 4, third)

	for _, want := range []int{2, 3, 4, 5} {
		got, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, q.IsEmpty())

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = q.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = q.At(0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
