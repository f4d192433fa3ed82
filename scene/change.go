package scene

import "fmt"

// Category is the host's coarse description of what kind of change happened.
// It says nothing about the prior state.
type Category uint8

const (
	SceneChanged Category = iota + 1
	CreateGameObjectHierarchy
	ChangeGameObjectStructureHierarchy
	ChangeGameObjectStructure
	ChangeGameObjectOrComponentProperties
	CreateAssetObject
	DestroyAssetObject
	ChangeAssetObjectProperties
	UpdatePrefabInstances
	ChangeChildrenOrder
)

var categoryNames = map[Category]string{
	SceneChanged:                          "SceneChanged",
	CreateGameObjectHierarchy:             "CreateGameObjectHierarchy",
	ChangeGameObjectStructureHierarchy:    "ChangeGameObjectStructureHierarchy",
	ChangeGameObjectStructure:             "ChangeGameObjectStructure",
	ChangeGameObjectOrComponentProperties: "ChangeGameObjectOrComponentProperties",
	CreateAssetObject:                     "CreateAssetObject",
	DestroyAssetObject:                    "DestroyAssetObject",
	ChangeAssetObjectProperties:           "ChangeAssetObjectProperties",
	UpdatePrefabInstances:                 "UpdatePrefabInstances",
	ChangeChildrenOrder:                   "ChangeChildrenOrder",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, len(categoryNames))
	for c := SceneChanged; c <= ChangeChildrenOrder; c++ {
		out = append(out, c)
	}
	return out
}

// Change is one raw notification from the host.
type Change struct {
	Category Category
	Object   ObjectID
}

func (c Change) String() string {
	return fmt.Sprintf("%s(%s)", c.Category, c.Object)
}
