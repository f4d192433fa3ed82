// Package scene describes the host environment the change stream observes:
// an object tree of game objects carrying components, plus free-standing
// assets. Graph is an in-memory implementation of that surface.
package scene

import "strconv"

// ObjectID identifies a host object. Zero means "none", or the scene level
// when used as a parent.
type ObjectID int64

func (id ObjectID) String() string {
	return "#" + strconv.FormatInt(int64(id), 10)
}

type SceneID int32

type Kind uint8

const (
	KindGameObject Kind = iota + 1
	KindComponent
	KindAsset
)

func (k Kind) String() string {
	switch k {
	case KindGameObject:
		return "GameObject"
	case KindComponent:
		return "Component"
	case KindAsset:
		return "Asset"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// HideFlags marks host-internal or generated objects. Anything non-zero is
// excluded from visible result sets.
type HideFlags uint32

const (
	HideInHierarchy HideFlags = 1 << iota
	HideInInspector
	DontSave
)

// Well-known component type and property keys.
const (
	TypeRenderer = "Renderer"

	PropActive            = "active"
	PropEnabled           = "enabled"
	PropForceRenderingOff = "forceRenderingOff"
)

// Host is the synchronous query surface over the live object tree. A stale
// reference is never an error: Kind reports false and the other queries
// return zero values.
type Host interface {
	Scenes() []SceneID
	Roots(scene SceneID) []ObjectID
	Kind(id ObjectID) (Kind, bool)
	Parent(id ObjectID) ObjectID
	Children(id ObjectID) []ObjectID
	Components(id ObjectID) []ObjectID
	Owner(component ObjectID) ObjectID
	ComponentType(component ObjectID) string
	HideFlags(id ObjectID) HideFlags
	Property(id ObjectID, key string) (any, bool)
	Properties(id ObjectID) map[string]any
}

// Scheduler runs a callback once the current notification batch has settled.
type Scheduler interface {
	AfterSettle(fn func())
}

// Alive reports whether id still refers to a live host object.
func Alive(h Host, id ObjectID) bool {
	if id == 0 {
		return false
	}
	_, ok := h.Kind(id)
	return ok
}

// BoolProperty reads a boolean property, falling back to def when the
// property is missing or not a bool.
func BoolProperty(h Host, id ObjectID, key string, def bool) bool {
	v, ok := h.Property(id, key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
