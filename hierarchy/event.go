package hierarchy

import "fmt"

// Event is the typed structural change delivered to listener sets.
type Event uint8

const (
	// PathChange: the object or one of its ancestors was reparented.
	PathChange Event = iota + 1
	// ObjectDirty: a property of the object itself changed.
	ObjectDirty
	// SelfComponentsChanged: components were added, removed or reordered on
	// the object.
	SelfComponentsChanged
	// ChildComponentsChanged: the components or children somewhere below the
	// object changed, including child order.
	ChildComponentsChanged
	// ForceInvalidate: everything about the object must be re-evaluated.
	ForceInvalidate
)

func (e Event) String() string {
	switch e {
	case PathChange:
		return "PathChange"
	case ObjectDirty:
		return "ObjectDirty"
	case SelfComponentsChanged:
		return "SelfComponentsChanged"
	case ChildComponentsChanged:
		return "ChildComponentsChanged"
	case ForceInvalidate:
		return "ForceInvalidate"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// Events lists every event in declaration order.
func Events() []Event {
	return []Event{PathChange, ObjectDirty, SelfComponentsChanged, ChildComponentsChanged, ForceInvalidate}
}
