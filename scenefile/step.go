package scenefile

import (
	"fmt"

	"github.com/delaneyj/changestream/preview"
	"github.com/delaneyj/changestream/scene"
)

const (
	OpSetProperty   = "setProperty"
	OpSetActive     = "setActive"
	OpSetHidden     = "setHidden"
	OpReparent      = "reparent"
	OpSetChildIndex = "setChildIndex"
	OpDestroy       = "destroy"
	OpToggleFilter  = "toggleFilter"
)

// Step is one scripted edit.
type Step struct {
	Op        string `yaml:"op"`
	Path      string `yaml:"path"`
	Component string `yaml:"component"`
	Key       string `yaml:"key"`
	Value     any    `yaml:"value"`
	To        string `yaml:"to"`
	Index     int    `yaml:"index"`
	Filter    string `yaml:"filter"`
	// Silent writes a property without the host reporting it, leaving it to
	// the property poll to notice.
	Silent bool `yaml:"silent"`
}

func (s Step) String() string {
	switch s.Op {
	case OpSetProperty:
		target := s.Path
		if s.Component != "" {
			target += "[" + s.Component + "]"
		}
		return fmt.Sprintf("%s %s.%s = %v", s.Op, target, s.Key, s.Value)
	case OpSetActive, OpSetHidden:
		return fmt.Sprintf("%s %s = %v", s.Op, s.Path, s.Value)
	case OpReparent:
		to := s.To
		if to == "" {
			to = "<scene root>"
		}
		return fmt.Sprintf("%s %s -> %s", s.Op, s.Path, to)
	case OpSetChildIndex:
		return fmt.Sprintf("%s %s -> %d", s.Op, s.Path, s.Index)
	case OpToggleFilter:
		return fmt.Sprintf("%s %s", s.Op, s.Filter)
	default:
		return fmt.Sprintf("%s %s", s.Op, s.Path)
	}
}

// Apply performs the step against g. Filters are looked up by name for
// toggleFilter.
func (s Step) Apply(g *scene.Graph, filters []*preview.ComponentFilter) error {
	if s.Op == OpToggleFilter {
		for _, f := range filters {
			if f.Name() == s.Filter {
				f.SetEnabled(!f.Enabled())
				return nil
			}
		}
		return fmt.Errorf("%s: %w", s.Filter, ErrUnknownFilter)
	}

	obj, ok := g.Find(s.Path)
	if !ok {
		return fmt.Errorf("%s: %w", s.Path, ErrUnknownPath)
	}

	switch s.Op {
	case OpSetProperty:
		target := obj
		if s.Component != "" {
			if target, ok = component(g, obj, s.Component); !ok {
				return fmt.Errorf("%s has no %s: %w", s.Path, s.Component, ErrUnknownPath)
			}
		}
		if s.Silent {
			return g.SetPropertySilently(target, s.Key, s.Value)
		}
		return g.SetProperty(target, s.Key, s.Value)
	case OpSetActive:
		active, err := s.boolValue()
		if err != nil {
			return err
		}
		return g.SetActive(obj, active)
	case OpSetHidden:
		hidden, err := s.boolValue()
		if err != nil {
			return err
		}
		var flags scene.HideFlags
		if hidden {
			flags = scene.HideInHierarchy
		}
		return g.SetHideFlags(obj, flags)
	case OpReparent:
		var parent scene.ObjectID
		if s.To != "" {
			if parent, ok = g.Find(s.To); !ok {
				return fmt.Errorf("%s: %w", s.To, ErrUnknownPath)
			}
		}
		return g.SetParent(obj, parent)
	case OpSetChildIndex:
		return g.SetChildIndex(obj, s.Index)
	case OpDestroy:
		return g.Destroy(obj)
	default:
		return fmt.Errorf("%q: %w", s.Op, ErrUnknownOp)
	}
}

func (s Step) boolValue() (bool, error) {
	b, ok := s.Value.(bool)
	if !ok {
		return false, fmt.Errorf("%s %s: value %v is not a bool", s.Op, s.Path, s.Value)
	}
	return b, nil
}

func component(g *scene.Graph, obj scene.ObjectID, typ string) (scene.ObjectID, bool) {
	for _, c := range g.Components(obj) {
		if g.ComponentType(c) == typ {
			return c, true
		}
	}
	return 0, false
}
