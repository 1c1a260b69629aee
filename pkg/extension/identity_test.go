package extension

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_WriteOnce(t *testing.T) {
	var id Identity

	_, ok := id.Get()
	assert.False(t, ok)

	require.NoError(t, id.Set("first"))
	assert.ErrorIs(t, id.Set("second"), ErrIdentityAlreadySet)

	got, ok := id.Get()
	assert.True(t, ok)
	assert.Equal(t, "first", got)
}

func TestIdentity_RejectsEmpty(t *testing.T) {
	var id Identity
	assert.ErrorIs(t, id.Set(""), ErrEmptyIdentity)
	_, ok := id.Get()
	assert.False(t, ok)
}

func TestIdentity_ConcurrentSetHasOneWinner(t *testing.T) {
	var (
		id   Identity
		wins int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id.Set("id") == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unregistered", Unregistered.String())
	assert.Equal(t, "registered", Registered.String())
	assert.Equal(t, "polling", Polling.String())
	assert.Equal(t, "unknown", State(9).String())
}
