package watcher

import (
	"sync"

	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/listeners"
)

// cancelHandle unlinks a group of registrations on the owner goroutine.
// Dispose may be called from any goroutine, any number of times.
type cancelHandle struct {
	w    *Watcher
	once sync.Once
	regs []listeners.Disposer
}

func (h *cancelHandle) Dispose() {
	h.once.Do(func() {
		regs := h.regs
		h.regs = nil
		h.w.Post(func() {
			for _, r := range regs {
				r.Dispose()
			}
		})
	})
}

// bindCancel disposes regs once ctx is invalidated, so the first listener to
// fire takes its siblings in other sets down with it.
func (w *Watcher) bindCancel(ctx *compute.Context, regs ...listeners.Disposer) listeners.Disposer {
	h := &cancelHandle{w: w, regs: regs}
	ctx.OnInvalidate(h.Dispose)
	return h
}
