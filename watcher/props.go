package watcher

import (
	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/hierarchy"
	"github.com/delaneyj/changestream/listeners"
	"github.com/delaneyj/changestream/scene"
)

type propConfig struct {
	poll bool
}

type PropOption func(*propConfig)

// WithPolling also samples the object on the property monitor's timer, for
// values the host can change without reporting it. Objects owned by a hidden
// game object are never polled.
func WithPolling() PropOption {
	return func(c *propConfig) {
		c.poll = true
	}
}

// MonitorProps returns extract's current value for id and invalidates ctx
// once a later extraction is no longer equal to it. A panic inside extract or
// equal during re-evaluation counts as a change.
func MonitorProps[R any](w *Watcher, id scene.ObjectID, ctx *compute.Context, extract func(scene.Host, scene.ObjectID) R, equal func(a, b R) bool, opts ...PropOption) R {
	var cfg propConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	current := extract(w.host, id)

	kind, ok := w.host.Kind(id)
	if !ok {
		return current
	}
	changed := func(e hierarchy.Event) bool {
		switch e {
		case hierarchy.ObjectDirty, hierarchy.ForceInvalidate:
			return !scene.Alive(w.host, id) || !equal(current, extract(w.host, id))
		default:
			return false
		}
	}

	var regs []listeners.Disposer
	if kind == scene.KindGameObject {
		regs = append(regs, w.hier.RegisterGameObjectListener(id, changed, ctx))
	} else {
		regs = append(regs, w.hier.RegisterObjectListener(id, changed, ctx))
	}
	if cfg.poll && !w.ownerHidden(id, kind) {
		regs = append(regs, w.props.Watch(id, changed, ctx))
	}
	w.bindCancel(ctx, regs...)
	return current
}

// Observe is MonitorProps for comparable values.
func Observe[R comparable](w *Watcher, id scene.ObjectID, ctx *compute.Context, extract func(scene.Host, scene.ObjectID) R, opts ...PropOption) R {
	return MonitorProps(w, id, ctx, extract, func(a, b R) bool { return a == b }, opts...)
}

func (w *Watcher) ownerHidden(id scene.ObjectID, kind scene.Kind) bool {
	switch kind {
	case scene.KindComponent:
		return w.host.HideFlags(w.host.Owner(id)) != 0
	case scene.KindGameObject:
		return w.host.HideFlags(id) != 0
	default:
		return false
	}
}
