package systems

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobSystemRunsEveryJob(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	require.NoError(t, err)

	var mu sync.Mutex
	sums := make(map[int]int)
	var failed, finished int32

	for i := 0; i < 32; i++ {
		require.NoError(t, js.Submit(JobTask{
			InputParams: i,
			OnStart: func(in interface{}, out chan<- interface{}) error {
				n := in.(int)
				out <- n
				out <- n
				if n%8 == 0 {
					return errors.Newf("job %d failed", n)
				}
				return nil
			},
			OnComplete: func(results <-chan interface{}) {
				total := 0
				var n int
				for r := range results {
					n = r.(int)
					total += n
				}
				mu.Lock()
				sums[n] = total
				mu.Unlock()
			},
			OnFailure: func(results <-chan interface{}) {
				atomic.AddInt32(&failed, 1)
			},
			OnCompletionCallback: func() {
				atomic.AddInt32(&finished, 1)
			},
		}))
	}
	require.NoError(t, js.Shutdown())

	assert.EqualValues(t, 32, finished)
	assert.EqualValues(t, 4, failed)
	assert.Len(t, sums, 28)
	assert.Equal(t, 14, sums[7])

	assert.ErrorIs(t, js.Shutdown(), ErrJobSystemClosed)
	assert.ErrorIs(t, js.Submit(JobTask{}), ErrJobSystemClosed)
}
