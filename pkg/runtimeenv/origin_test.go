package runtimeenv_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/token-sidecar/pkg/faults"
	"github.com/Mindburn-Labs/token-sidecar/pkg/runtimeenv"
)

func countingLookup(value string, present bool, calls *int32) runtimeenv.LookupFunc {
	return func(key string) (string, bool) {
		atomic.AddInt32(calls, 1)
		if key != runtimeenv.RuntimeAPIEnv {
			return "", false
		}
		return value, present
	}
}

func TestOrigin_ResolvesOnce(t *testing.T) {
	var calls int32
	o := runtimeenv.NewOrigin(countingLookup("127.0.0.1:9001", true, &calls))

	for i := 0; i < 5; i++ {
		v, err := o.Get()
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9001", v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// Concurrent first access must still produce exactly one lookup and one value.
func TestOrigin_ConcurrentFirstAccess(t *testing.T) {
	var calls int32
	o := runtimeenv.NewOrigin(countingLookup("sandbox:9001", true, &calls))

	const workers = 64
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := o.Get()
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "sandbox:9001", v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOrigin_MissingIsFatal(t *testing.T) {
	var calls int32
	o := runtimeenv.NewOrigin(countingLookup("", false, &calls))

	v, err := o.Get()
	require.Error(t, err)
	assert.Empty(t, v)
	assert.ErrorIs(t, err, runtimeenv.ErrOriginNotConfigured)
	assert.True(t, faults.IsFatal(err))
	assert.Contains(t, err.Error(), runtimeenv.RuntimeAPIEnv)

	// The failure is memoized as well.
	_, err = o.Get()
	assert.ErrorIs(t, err, runtimeenv.ErrOriginNotConfigured)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOrigin_EmptyIsMissing(t *testing.T) {
	var calls int32
	o := runtimeenv.NewOrigin(countingLookup("", true, &calls))

	_, err := o.Get()
	assert.ErrorIs(t, err, runtimeenv.ErrOriginNotConfigured)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(runtimeenv.RuntimeAPIEnv, "localhost:9001")

	v, err := runtimeenv.FromEnv().Get()
	require.NoError(t, err)
	assert.Equal(t, "localhost:9001", v)
}
