package watcher

import (
	"slices"

	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/hierarchy"
	"github.com/delaneyj/changestream/listeners"
	"github.com/delaneyj/changestream/scene"
)

// MonitorSceneRoots returns the visible roots of every loaded scene and
// invalidates ctx when that list changes.
func (w *Watcher) MonitorSceneRoots(ctx *compute.Context) []scene.ObjectID {
	roots := w.sceneRoots()
	reg := w.hier.RegisterRootSetListener(func(hierarchy.Event) bool {
		return !slices.Equal(roots, w.sceneRoots())
	}, ctx)

	// Hiding a root is a property change on it, which the root set never sees.
	regs := []listeners.Disposer{reg}
	for _, s := range w.host.Scenes() {
		for _, r := range w.host.Roots(s) {
			regs = append(regs, w.hier.RegisterGameObjectListener(r, func(e hierarchy.Event) bool {
				return e == hierarchy.ObjectDirty && !slices.Equal(roots, w.sceneRoots())
			}, ctx))
		}
	}
	w.bindCancel(ctx, regs...)
	return roots
}

func (w *Watcher) sceneRoots() []scene.ObjectID {
	var roots []scene.ObjectID
	for _, s := range w.host.Scenes() {
		for _, r := range w.host.Roots(s) {
			if w.host.HideFlags(r) != 0 {
				continue
			}
			roots = append(roots, r)
		}
	}
	return roots
}

// MonitorObjectPath returns the chain from the scene root down to id and
// invalidates ctx when id or any of its ancestors is reparented.
func (w *Watcher) MonitorObjectPath(id scene.ObjectID, ctx *compute.Context) []scene.ObjectID {
	reg := w.hier.RegisterGameObjectListener(id, func(e hierarchy.Event) bool {
		return e == hierarchy.PathChange || e == hierarchy.ForceInvalidate
	}, ctx)
	w.hier.EnablePathMonitoring(id)
	w.bindCancel(ctx, reg)

	if !scene.Alive(w.host, id) {
		return nil
	}
	var path []scene.ObjectID
	for cur := id; cur != 0; cur = w.host.Parent(cur) {
		path = append(path, cur)
	}
	slices.Reverse(path)
	return path
}

// MonitorGetComponents returns the visible components of type typ on obj,
// and on its descendants when includeChildren is set, in depth-first child
// order. An empty typ matches every component.
func (w *Watcher) MonitorGetComponents(obj scene.ObjectID, ctx *compute.Context, typ string, includeChildren bool) []scene.ObjectID {
	get := func() []scene.ObjectID {
		return w.components(obj, typ, includeChildren)
	}
	components := get()

	reg := w.hier.RegisterGameObjectListener(obj, func(e hierarchy.Event) bool {
		switch e {
		case hierarchy.ChildComponentsChanged:
			if !includeChildren {
				return false
			}
		case hierarchy.SelfComponentsChanged, hierarchy.ForceInvalidate:
		default:
			return false
		}
		return !scene.Alive(w.host, obj) || !slices.Equal(components, get())
	}, ctx)
	if includeChildren {
		w.hier.EnableComponentMonitoring(obj)
	}
	w.bindCancel(ctx, reg)
	return components
}

// MonitorGetComponent returns the first visible component of type typ on
// obj, or zero.
func (w *Watcher) MonitorGetComponent(obj scene.ObjectID, ctx *compute.Context, typ string) scene.ObjectID {
	get := func() scene.ObjectID {
		if found := w.components(obj, typ, false); len(found) > 0 {
			return found[0]
		}
		return 0
	}
	component := get()

	reg := w.hier.RegisterGameObjectListener(obj, func(e hierarchy.Event) bool {
		switch e {
		case hierarchy.SelfComponentsChanged, hierarchy.ChildComponentsChanged, hierarchy.ForceInvalidate:
			return !scene.Alive(w.host, obj) || component != get()
		default:
			return false
		}
	}, ctx)
	w.bindCancel(ctx, reg)
	return component
}

func (w *Watcher) components(obj scene.ObjectID, typ string, recursive bool) []scene.ObjectID {
	var out []scene.ObjectID
	var walk func(id scene.ObjectID)
	walk = func(id scene.ObjectID) {
		if w.host.HideFlags(id) == 0 {
			for _, c := range w.host.Components(id) {
				if typ != "" && w.host.ComponentType(c) != typ {
					continue
				}
				if w.host.HideFlags(c) != 0 {
					continue
				}
				out = append(out, c)
			}
		}
		if recursive {
			for _, child := range w.host.Children(id) {
				walk(child)
			}
		}
	}
	walk(obj)
	return out
}

// ActiveInHierarchy reports whether id and all of its ancestors are active.
func (w *Watcher) ActiveInHierarchy(id scene.ObjectID, ctx *compute.Context) bool {
	if !scene.Alive(w.host, id) {
		return false
	}
	w.MonitorObjectPath(id, ctx)
	for cur := id; cur != 0; cur = w.host.Parent(cur) {
		if !Observe(w, cur, ctx, activeSelf) {
			return false
		}
	}
	return true
}

func activeSelf(h scene.Host, id scene.ObjectID) bool {
	return scene.BoolProperty(h, id, scene.PropActive, true)
}

type rendererState struct {
	enabled, forcedOff bool
}

func readRenderer(h scene.Host, id scene.ObjectID) rendererState {
	return rendererState{
		enabled:   scene.BoolProperty(h, id, scene.PropEnabled, true),
		forcedOff: scene.BoolProperty(h, id, scene.PropForceRenderingOff, false),
	}
}

// RendererShown reports whether a renderer component would draw: its owner
// is active in the hierarchy, it is enabled, and rendering is not forced off.
// Renderer flags can flip without a host notification, so they are polled.
func (w *Watcher) RendererShown(renderer scene.ObjectID, ctx *compute.Context) bool {
	if kind, ok := w.host.Kind(renderer); !ok || kind != scene.KindComponent {
		return false
	}
	if !w.ActiveInHierarchy(w.host.Owner(renderer), ctx) {
		return false
	}
	s := Observe(w, renderer, ctx, readRenderer, WithPolling())
	return s.enabled && !s.forcedOff
}

// MonitorVisibility invalidates ctx on the next NotifyVisibilityChanged.
func (w *Watcher) MonitorVisibility(ctx *compute.Context) {
	w.bindCancel(ctx, w.visibility.RegisterAll(ctx))
}
