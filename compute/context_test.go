package compute_test

import (
	"runtime"
	"sync"
	"testing"

	"github.com/delaneyj/changestream/compute"
	"github.com/stretchr/testify/assert"
)

func TestInvalidateIsMonotonic(t *testing.T) {
	ctx := compute.New("test")
	assert.False(t, ctx.IsInvalidated())

	runs := 0
	ctx.OnInvalidate(func() { runs++ })

	ctx.Invalidate()
	ctx.Invalidate()
	ctx.Invalidate()

	assert.True(t, ctx.IsInvalidated())
	assert.Equal(t, 1, runs)
}

func TestOnInvalidateAfterInvalidationRunsImmediately(t *testing.T) {
	ctx := compute.New("late")
	ctx.Invalidate()

	ran := false
	ctx.OnInvalidate(func() { ran = true })
	assert.True(t, ran)
}

func TestInvalidatesPropagatesTransitively(t *testing.T) {
	//  a -> b -> c
	a := compute.New("a")
	b := compute.New("b")
	c := compute.New("c")
	a.Invalidates(b)
	b.Invalidates(c)

	c.Invalidate()
	assert.False(t, a.IsInvalidated())
	assert.False(t, b.IsInvalidated())

	a.Invalidate()
	assert.True(t, b.IsInvalidated())
	assert.True(t, c.IsInvalidated())
}

func TestLateEdgeIsInvalidatedImmediately(t *testing.T) {
	a := compute.New("a")
	a.Invalidate()

	b := compute.New("b")
	a.Invalidates(b)
	assert.True(t, b.IsInvalidated())
}

func TestDependentsInvalidatedBeforeContinuations(t *testing.T) {
	a := compute.New("a")
	b := compute.New("b")
	a.Invalidates(b)

	var sawDependent bool
	a.OnInvalidate(func() { sawDependent = b.IsInvalidated() })
	a.Invalidate()
	assert.True(t, sawDependent)
}

func TestCycleTerminates(t *testing.T) {
	a := compute.New("a")
	b := compute.New("b")
	a.Invalidates(b)
	b.Invalidates(a)

	a.Invalidate()
	assert.True(t, a.IsInvalidated())
	assert.True(t, b.IsInvalidated())
}

func TestContinuationRegisteredDuringPropagationRuns(t *testing.T) {
	a := compute.New("a")
	b := compute.New("b")
	a.Invalidates(b)

	ran := 0
	b.OnInvalidate(func() {
		a.OnInvalidate(func() { ran++ })
	})
	a.Invalidate()
	assert.Equal(t, 1, ran)
}

func TestUnheldIntermediatePropagates(t *testing.T) {
	a := compute.New("a")
	c := compute.New("c")
	func() {
		b := compute.New("b")
		a.Invalidates(b)
		b.Invalidates(c)
	}()
	runtime.GC()
	runtime.GC()

	a.Invalidate()
	assert.True(t, c.IsInvalidated(), "a -> b -> c must reach c even when only the edge holds b")
}

func TestConcurrentInvalidateRunsContinuationsOnce(t *testing.T) {
	ctx := compute.New("concurrent")

	var mu sync.Mutex
	runs := 0
	for i := 0; i < 10; i++ {
		ctx.OnInvalidate(func() {
			mu.Lock()
			runs++
			mu.Unlock()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx.Invalidate()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, runs)
}

func TestString(t *testing.T) {
	assert.Equal(t, "Target Set", compute.New("Target Set").String())
	var nilCtx *compute.Context
	assert.Equal(t, "<nil context>", nilCtx.String())
}
