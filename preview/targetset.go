package preview

import (
	"cmp"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/metrics"
	"github.com/delaneyj/changestream/scene"
	"github.com/go-logr/logr"
	"github.com/samber/lo"
)

// Visibility answers whether renderers are currently shown. *watcher.Watcher
// implements it.
type Visibility interface {
	RendererShown(renderer scene.ObjectID, ctx *compute.Context) bool
	MonitorVisibility(ctx *compute.Context)
}

type config struct {
	log     logr.Logger
	metrics *metrics.Metrics
}

type Option func(*config)

func WithLogger(log logr.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// TargetSet caches the groups each enabled filter contributes. It is
// immutable once built; Refresh hands back a new one when the cached stages
// may be stale.
type TargetSet struct {
	cfg     config
	vis     Visibility
	filters []RenderFilter
	ctx     *compute.Context
	stages  []Stage
}

func NewTargetSet(vis Visibility, filters []RenderFilter, opts ...Option) *TargetSet {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return build(cfg, vis, filters)
}

func build(cfg config, vis Visibility, filters []RenderFilter) *TargetSet {
	t := &TargetSet{
		cfg:     cfg,
		vis:     vis,
		filters: slices.Clone(filters),
		ctx:     compute.New("Target Set"),
	}
	for _, f := range t.filters {
		if !f.IsEnabled(t.ctx) {
			continue
		}
		groups := lo.Reject(f.TargetGroups(t.ctx), func(g RenderGroup, _ int) bool {
			return g.IsEmpty()
		})
		if len(groups) == 0 {
			continue
		}
		slices.SortStableFunc(groups, func(a, b RenderGroup) int {
			return cmp.Compare(a.Renderers[0], b.Renderers[0])
		})
		t.stages = append(t.stages, Stage{Filter: f, Groups: groups})
	}
	cfg.metrics.ObserveRebuild()
	cfg.log.V(1).Info("built target set", "filters", len(t.filters), "stages", len(t.stages))
	return t
}

// Refresh returns t itself when nothing it depends on was invalidated and
// filters is the same list, and a freshly built TargetSet otherwise.
func (t *TargetSet) Refresh(filters []RenderFilter) *TargetSet {
	if !t.ctx.IsInvalidated() && slices.Equal(t.filters, filters) {
		return t
	}
	return build(t.cfg, t.vis, filters)
}

// Stages is the cached pipeline, before visibility is considered.
func (t *TargetSet) Stages() []Stage {
	return t.stages
}

// Valid reports whether the cached stages are still current.
func (t *TargetSet) Valid() bool {
	return !t.ctx.IsInvalidated()
}

// ResolveActiveStages returns the stages restricted to renderers that may be
// shown. ctx is invalidated when the target set itself goes stale or any
// renderer's visibility changes.
func (t *TargetSet) ResolveActiveStages(ctx *compute.Context) []Stage {
	t.ctx.Invalidates(ctx)
	t.vis.MonitorVisibility(ctx)

	maybeActive := mapset.NewThreadUnsafeSet[scene.ObjectID]()
	for _, stage := range t.stages {
		for _, group := range stage.Groups {
			for _, r := range group.Renderers {
				if t.vis.RendererShown(r, ctx) || stage.Filter.CanEnableRenderers() {
					maybeActive.Add(r)
				}
			}
		}
	}

	// A strict stage needs whole groups. Pulling in a hidden neighbour can
	// complete a group in an earlier strict stage, so walk backwards.
	for i := len(t.stages) - 1; i >= 0; i-- {
		stage := t.stages[i]
		if !stage.Filter.StrictRenderGroup() {
			continue
		}
		for _, group := range stage.Groups {
			anyActive := lo.ContainsBy(group.Renderers, func(r scene.ObjectID) bool {
				return maybeActive.Contains(r)
			})
			if !anyActive {
				continue
			}
			for _, r := range group.Renderers {
				maybeActive.Add(r)
			}
		}
	}

	var active []Stage
	for _, stage := range t.stages {
		groups := lo.Reject(lo.Map(stage.Groups, func(g RenderGroup, _ int) RenderGroup {
			return g.Filter(maybeActive)
		}), func(g RenderGroup, _ int) bool {
			return g.IsEmpty()
		})
		if len(groups) > 0 {
			active = append(active, Stage{Filter: stage.Filter, Groups: groups})
		}
	}
	return active
}
