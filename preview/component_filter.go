package preview

import (
	"sync/atomic"

	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/listeners"
	"github.com/delaneyj/changestream/scene"
	"github.com/delaneyj/changestream/watcher"
	"github.com/samber/lo"
)

// ComponentFilter targets the components of one type below a root object,
// grouping components whose owners share a parent.
type ComponentFilter struct {
	name          string
	w             *watcher.Watcher
	host          scene.Host
	root          scene.ObjectID
	componentType string
	strict        bool
	canEnable     bool

	enabled atomic.Bool
	toggled *listeners.Set[bool]
}

type FilterOption func(*ComponentFilter)

// Strict marks the filter's groups as all-or-nothing.
func Strict() FilterOption {
	return func(f *ComponentFilter) {
		f.strict = true
	}
}

// CanEnable lets the filter show renderers that are currently hidden.
func CanEnable() FilterOption {
	return func(f *ComponentFilter) {
		f.canEnable = true
	}
}

// ComponentType overrides the default of scene.TypeRenderer.
func ComponentType(typ string) FilterOption {
	return func(f *ComponentFilter) {
		f.componentType = typ
	}
}

// Disabled starts the filter switched off.
func Disabled() FilterOption {
	return func(f *ComponentFilter) {
		f.enabled.Store(false)
	}
}

func NewComponentFilter(w *watcher.Watcher, host scene.Host, name string, root scene.ObjectID, opts ...FilterOption) *ComponentFilter {
	f := &ComponentFilter{
		name:          name,
		w:             w,
		host:          host,
		root:          root,
		componentType: scene.TypeRenderer,
		toggled:       watcher.NewListenerSet[bool](w),
	}
	f.enabled.Store(true)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *ComponentFilter) Name() string {
	return f.name
}

func (f *ComponentFilter) String() string {
	return f.name
}

func (f *ComponentFilter) StrictRenderGroup() bool {
	return f.strict
}

func (f *ComponentFilter) CanEnableRenderers() bool {
	return f.canEnable
}

func (f *ComponentFilter) IsEnabled(ctx *compute.Context) bool {
	f.toggled.Prune()
	f.toggled.RegisterAll(ctx)
	return f.enabled.Load()
}

// Enabled reads the switch without subscribing to it.
func (f *ComponentFilter) Enabled() bool {
	return f.enabled.Load()
}

// SetEnabled switches the filter and invalidates everyone who asked.
func (f *ComponentFilter) SetEnabled(enabled bool) {
	if f.enabled.Swap(enabled) != enabled {
		f.toggled.Fire(enabled)
	}
}

func (f *ComponentFilter) TargetGroups(ctx *compute.Context) []RenderGroup {
	components := f.w.MonitorGetComponents(f.root, ctx, f.componentType, true)

	owners := lo.Map(components, func(c scene.ObjectID, _ int) scene.ObjectID {
		return f.host.Owner(c)
	})
	for _, o := range lo.Uniq(owners) {
		// Grouping follows the owner's parent.
		f.w.MonitorObjectPath(o, ctx)
	}

	byParent := lo.GroupBy(components, func(c scene.ObjectID) scene.ObjectID {
		return f.host.Parent(f.host.Owner(c))
	})
	parents := lo.Uniq(lo.Map(components, func(c scene.ObjectID, _ int) scene.ObjectID {
		return f.host.Parent(f.host.Owner(c))
	}))
	return lo.Map(parents, func(p scene.ObjectID, _ int) RenderGroup {
		return NewRenderGroup(byParent[p]...)
	})
}
