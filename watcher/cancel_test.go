package watcher

import (
	"sync"
	"testing"

	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDisposer struct {
	mu sync.Mutex
	n  int
}

func (d *countingDisposer) Dispose() {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
}

func TestCancelRunsOnOwnerOnce(t *testing.T) {
	w := New(scene.NewGraph())
	reg := &countingDisposer{}
	h := w.bindCancel(compute.New("bound"), reg)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Dispose()
		}()
	}
	wg.Wait()

	assert.Zero(t, reg.n, "disposal waits for the owner")
	w.mu.Lock()
	require.Len(t, w.work, 1)
	w.mu.Unlock()

	w.Flush()
	assert.Equal(t, 1, reg.n)
}

func TestCancelFollowsInvalidation(t *testing.T) {
	w := New(scene.NewGraph())
	ctx := compute.New("bound")
	a, b := &countingDisposer{}, &countingDisposer{}
	h := w.bindCancel(ctx, a, b)

	ctx.Invalidate()
	h.Dispose()
	w.Flush()
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

func TestCancelOnInvalidatedContextIsImmediate(t *testing.T) {
	w := New(scene.NewGraph())
	ctx := compute.New("dead")
	ctx.Invalidate()

	reg := &countingDisposer{}
	w.bindCancel(ctx, reg)
	w.Flush()
	assert.Equal(t, 1, reg.n)
}
