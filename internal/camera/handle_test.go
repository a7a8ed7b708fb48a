package camera

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_AcquireIsExclusive(t *testing.T) {
	h := NewHandle(NewSyntheticCamera("Synthetic_1", smallSettings()))

	lease, err := h.Acquire(context.Background())
	require.NoError(t, err)

	// 保持中は取得できない
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.Acquire(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	_, ok := h.TryAcquire()
	assert.False(t, ok)

	// 二重解放しても壊れない
	lease.Release()
	lease.Release()

	again, ok := h.TryAcquire()
	require.True(t, ok)
	again.Release()
}

func TestHandle_SerializesConcurrentUsers(t *testing.T) {
	h := NewHandle(NewSyntheticCamera("Synthetic_1", smallSettings()))

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := h.Acquire(context.Background())
			if err != nil {
				return
			}
			defer lease.Release()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestHandle_State(t *testing.T) {
	cam := NewSyntheticCamera("Synthetic_1", smallSettings())
	h := NewHandle(cam)
	assert.Equal(t, StateDisconnected, h.State())

	require.NoError(t, cam.Connect(context.Background()))
	assert.Equal(t, StateConnected, h.State())
	assert.Equal(t, "Synthetic_1", h.ID())
	assert.Equal(t, FamilySynthetic, h.Info().Family)
}

func TestHandle_AcquireWithDoneContext(t *testing.T) {
	h := NewHandle(NewSyntheticCamera("Synthetic_1", smallSettings()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 空いていれば取得できる
	lease, err := h.Acquire(ctx)
	require.NoError(t, err)

	// 使用中なら ctx のエラーを伴う ErrBusy
	_, err = h.Acquire(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, err, context.Canceled)

	lease.Release()
	assert.False(t, h.Retired())
}
