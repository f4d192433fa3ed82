// Package preview caches which renderers each stage of a render filter
// pipeline applies to, and resolves the stages that are currently active.
package preview

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/scene"
	"github.com/samber/lo"
)

// RenderFilter is one stage of the preview pipeline. Implementations are
// compared by identity when a target set checks whether its filter list
// changed, so they must be comparable; pointer receivers are the norm.
type RenderFilter interface {
	Name() string
	// IsEnabled reports whether the stage runs at all. Toggling it must
	// invalidate ctx.
	IsEnabled(ctx *compute.Context) bool
	// TargetGroups returns the renderer groups the stage operates on.
	TargetGroups(ctx *compute.Context) []RenderGroup
	// StrictRenderGroup means a group is processed all together or not at
	// all.
	StrictRenderGroup() bool
	// CanEnableRenderers means the stage may show renderers that are
	// currently hidden.
	CanEnableRenderers() bool
}

// RenderGroup is a set of renderers one stage processes together.
type RenderGroup struct {
	Renderers []scene.ObjectID
}

func NewRenderGroup(renderers ...scene.ObjectID) RenderGroup {
	return RenderGroup{Renderers: renderers}
}

func (g RenderGroup) IsEmpty() bool {
	return len(g.Renderers) == 0
}

// Filter keeps only the renderers in keep, preserving order.
func (g RenderGroup) Filter(keep mapset.Set[scene.ObjectID]) RenderGroup {
	return RenderGroup{Renderers: lo.Filter(g.Renderers, func(r scene.ObjectID, _ int) bool {
		return keep.Contains(r)
	})}
}

func (g RenderGroup) String() string {
	return fmt.Sprint(g.Renderers)
}

// Stage is a filter with the groups it currently contributes.
type Stage struct {
	Filter RenderFilter
	Groups []RenderGroup
}
