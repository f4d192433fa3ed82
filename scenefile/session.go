package scenefile

import (
	"fmt"

	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/preview"
	"github.com/delaneyj/changestream/scene"
	"github.com/delaneyj/changestream/watcher"
)

// Session replays a scene file: a graph, a watcher owned by the caller's
// goroutine, the file's filters and the target set they feed.
type Session struct {
	File    *File
	Graph   *scene.Graph
	Watcher *watcher.Watcher
	Filters []*preview.ComponentFilter

	targets  *preview.TargetSet
	resolved *compute.Context
}

// Open builds the graph and pipeline described by f. The engine section's
// poll interval applies unless opts override it.
func Open(f *File, opts []watcher.Option, previewOpts ...preview.Option) (*Session, error) {
	g, err := f.Build()
	if err != nil {
		return nil, err
	}
	if f.Engine.PollInterval > 0 {
		opts = append([]watcher.Option{watcher.WithPollInterval(f.Engine.PollInterval)}, opts...)
	}
	w := watcher.New(g, opts...)
	g.OnChange(w.Enqueue)

	filters, err := f.NewFilters(w, g)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &Session{
		File:    f,
		Graph:   g,
		Watcher: w,
		Filters: filters,
		targets: preview.NewTargetSet(w, RenderFilters(filters), previewOpts...),
	}, nil
}

// Resolve flushes pending changes and resolves the active stages. It reports
// whether anything observed by the previous resolve had changed.
func (s *Session) Resolve() (stages []preview.Stage, changed bool) {
	s.Watcher.Flush()
	changed = s.resolved == nil || s.resolved.IsInvalidated()
	s.targets = s.targets.Refresh(RenderFilters(s.Filters))
	s.resolved = compute.New("resolve active stages")
	return s.targets.ResolveActiveStages(s.resolved), changed
}

// Step applies the i-th scripted step.
func (s *Session) Step(i int) error {
	if i < 0 || i >= len(s.File.Steps) {
		return fmt.Errorf("step %d of %d: %w", i, len(s.File.Steps), ErrUnknownStep)
	}
	return s.File.Steps[i].Apply(s.Graph, s.Filters)
}

// Name renders an object the way scene file paths spell it.
func (s *Session) Name(id scene.ObjectID) string {
	return s.Graph.Path(id)
}

func (s *Session) Close() error {
	return s.Watcher.Close()
}
