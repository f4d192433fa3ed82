// Package scenefile loads a YAML description of a scene, a render filter
// pipeline and a script of edits to replay against it.
package scenefile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/delaneyj/changestream/preview"
	"github.com/delaneyj/changestream/scene"
	"github.com/delaneyj/changestream/watcher"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownPath   = errors.New("unknown object path")
	ErrUnknownOp     = errors.New("unknown step op")
	ErrUnknownFilter = errors.New("unknown filter")
	ErrUnknownStep   = errors.New("no such step")
)

type File struct {
	Engine  Engine   `yaml:"engine"`
	Scenes  []Scene  `yaml:"scenes"`
	Filters []Filter `yaml:"filters"`
	Steps   []Step   `yaml:"steps"`
}

// Engine configures the watcher and logging of whoever replays the file.
type Engine struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	Verbosity    int           `yaml:"verbosity"`
}

type Scene struct {
	Name    string   `yaml:"name"`
	Objects []Object `yaml:"objects"`
}

type Object struct {
	Name       string      `yaml:"name"`
	Active     *bool       `yaml:"active"`
	Hidden     bool        `yaml:"hidden"`
	Components []Component `yaml:"components"`
	Children   []Object    `yaml:"children"`
}

type Component struct {
	Type   string         `yaml:"type"`
	Props  map[string]any `yaml:"props"`
	Hidden bool           `yaml:"hidden"`
}

type Filter struct {
	Name               string `yaml:"name"`
	Root               string `yaml:"root"`
	ComponentType      string `yaml:"componentType"`
	Strict             bool   `yaml:"strict"`
	CanEnableRenderers bool   `yaml:"canEnableRenderers"`
	Enabled            *bool  `yaml:"enabled"`
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a scene file, rejecting unknown keys.
func Parse(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding scene file: %w", err)
	}
	return &f, nil
}

// Build creates the scenes in a fresh graph.
func (f *File) Build() (*scene.Graph, error) {
	g := scene.NewGraph()
	for _, s := range f.Scenes {
		id := g.AddScene(s.Name)
		for _, o := range s.Objects {
			if err := buildObject(g, id, 0, o); err != nil {
				return nil, fmt.Errorf("scene %s: %w", s.Name, err)
			}
		}
	}
	return g, nil
}

func buildObject(g *scene.Graph, scn scene.SceneID, parent scene.ObjectID, o Object) error {
	id, err := g.CreateObject(scn, parent, o.Name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", o.Name, err)
	}
	if o.Active != nil {
		if err := g.SetActive(id, *o.Active); err != nil {
			return err
		}
	}
	if o.Hidden {
		if err := g.SetHideFlags(id, scene.HideInHierarchy); err != nil {
			return err
		}
	}
	for _, c := range o.Components {
		cid, err := g.AddComponent(id, c.Type, c.Props)
		if err != nil {
			return fmt.Errorf("adding %s to %s: %w", c.Type, o.Name, err)
		}
		if c.Hidden {
			if err := g.SetHideFlags(cid, scene.HideInInspector); err != nil {
				return err
			}
		}
	}
	for _, child := range o.Children {
		if err := buildObject(g, scn, id, child); err != nil {
			return err
		}
	}
	return nil
}

// NewFilters creates a ComponentFilter per filter entry, in file order.
func (f *File) NewFilters(w *watcher.Watcher, g *scene.Graph) ([]*preview.ComponentFilter, error) {
	out := make([]*preview.ComponentFilter, 0, len(f.Filters))
	for _, def := range f.Filters {
		root, ok := g.Find(def.Root)
		if !ok {
			return nil, fmt.Errorf("filter %s root %q: %w", def.Name, def.Root, ErrUnknownPath)
		}
		var opts []preview.FilterOption
		if def.ComponentType != "" {
			opts = append(opts, preview.ComponentType(def.ComponentType))
		}
		if def.Strict {
			opts = append(opts, preview.Strict())
		}
		if def.CanEnableRenderers {
			opts = append(opts, preview.CanEnable())
		}
		if def.Enabled != nil && !*def.Enabled {
			opts = append(opts, preview.Disabled())
		}
		out = append(out, preview.NewComponentFilter(w, g, def.Name, root, opts...))
	}
	return out, nil
}

// RenderFilters widens filters to the pipeline's interface type.
func RenderFilters(filters []*preview.ComponentFilter) []preview.RenderFilter {
	out := make([]preview.RenderFilter, len(filters))
	for i, f := range filters {
		out[i] = f
	}
	return out
}
