package hierarchy

import (
	"slices"

	"github.com/delaneyj/changestream/scene"
)

// Apply classifies one raw host change against the shadow tree and delivers
// the resulting events. When a change is ambiguous the broader
// interpretation wins.
func (h *Hierarchy) Apply(c scene.Change) {
	h.log.V(1).Info("classifying change", "change", c.String())

	switch c.Category {
	case scene.SceneChanged:
		h.InvalidateAll()
	case scene.CreateGameObjectHierarchy:
		h.onCreate(c.Object)
	case scene.ChangeGameObjectStructureHierarchy:
		h.onStructureHierarchy(c.Object)
	case scene.ChangeGameObjectStructure:
		h.onStructure(c.Object)
	case scene.ChangeGameObjectOrComponentProperties:
		h.onProperties(c.Object)
	case scene.CreateAssetObject:
		// Assets are observed lazily, on first query.
	case scene.DestroyAssetObject:
		h.retireObject(c.Object)
	case scene.ChangeAssetObjectProperties:
		h.fireObject(c.Object, ObjectDirty)
	case scene.UpdatePrefabInstances:
		h.onPrefabUpdate(c.Object)
	case scene.ChangeChildrenOrder:
		h.onChildrenOrder(c.Object)
	default:
		h.log.Info("unknown change category, invalidating everything", "change", c.String())
		h.InvalidateAll()
	}
}

func (h *Hierarchy) onCreate(id scene.ObjectID) {
	if !scene.Alive(h.host, id) {
		return
	}
	if n, ok := h.nodes[id]; ok {
		// Undo/redo can resurrect an object we still shadow.
		h.checkReparent(n)
		h.diffStructure(n)
		return
	}

	parent := h.host.Parent(id)
	if parent == 0 {
		h.fireRoots()
		return
	}
	if pn, ok := h.nodes[parent]; ok {
		h.trackSubtree(id, pn)
		h.childSetChanged(pn)
		return
	}
	h.fireComponentSearches(h.nearestTracked(parent))
}

func (h *Hierarchy) onStructureHierarchy(id scene.ObjectID) {
	n, tracked := h.nodes[id]
	if !scene.Alive(h.host, id) {
		if tracked {
			h.destroyNode(n)
		} else {
			h.destroyUntracked(id)
		}
		return
	}
	if !tracked {
		h.moveUntracked(id)
		return
	}
	h.checkReparent(n)
	h.diffStructure(n)
}

func (h *Hierarchy) onStructure(id scene.ObjectID) {
	if n, ok := h.nodes[id]; ok {
		if !scene.Alive(h.host, id) {
			h.destroyNode(n)
			return
		}
		h.diffStructure(n)
		return
	}
	// Nothing remembers this object's components, so assume they changed.
	h.fireComponentSearches(h.nearestTracked(id))
}

func (h *Hierarchy) onProperties(id scene.ObjectID) {
	kind, ok := h.host.Kind(id)
	if !ok {
		h.retireObject(id)
		if n, tracked := h.nodes[id]; tracked {
			h.destroyNode(n)
		}
		return
	}

	switch kind {
	case scene.KindComponent, scene.KindAsset:
		h.fireObject(id, ObjectDirty)
	case scene.KindGameObject:
		n, tracked := h.nodes[id]
		if !tracked {
			h.fireComponentSearches(h.nearestTracked(h.host.Parent(id)))
			return
		}
		h.fire(n.listeners, ObjectDirty)
		// A game object property change may be a component reorder, which
		// never shows up as a structure change.
		h.refreshComponents(n)
		h.fire(n.listeners, SelfComponentsChanged)
		h.fireComponentSearches(n.parent)
	}
}

func (h *Hierarchy) onPrefabUpdate(id scene.ObjectID) {
	n, ok := h.nodes[id]
	if !ok {
		h.onStructureHierarchy(id)
		return
	}
	if !scene.Alive(h.host, id) {
		h.destroyNode(n)
		return
	}
	subtree := []*node{n}
	for i := 0; i < len(subtree); i++ {
		for _, c := range subtree[i].children.ToSlice() {
			if cn, ok := h.nodes[c]; ok {
				subtree = append(subtree, cn)
			}
		}
	}
	for _, sn := range subtree {
		if _, still := h.nodes[sn.id]; !still {
			continue
		}
		if !scene.Alive(h.host, sn.id) {
			h.destroyNode(sn)
			continue
		}
		h.checkReparent(sn)
		h.diffStructure(sn)
	}
}

// onChildrenOrder notifies the reordered parent. Recursive searches above it
// also enumerate in child order, so they hear about it too.
func (h *Hierarchy) onChildrenOrder(parent scene.ObjectID) {
	if parent == 0 {
		h.fireRoots()
		return
	}
	n, ok := h.nodes[parent]
	if !ok {
		h.fireComponentSearches(h.nearestTracked(parent))
		return
	}
	n.childOrder = h.host.Children(parent)
	h.fire(n.listeners, ChildComponentsChanged)
	h.fireComponentSearches(n.parent)
}

// checkReparent compares the host parent of n with the shadow's and reports
// a move. It returns whether n moved.
func (h *Hierarchy) checkReparent(n *node) bool {
	newParent := h.host.Parent(n.id)
	old := n.parent
	var oldParent scene.ObjectID
	if old != nil {
		oldParent = old.id
	}
	if newParent == oldParent {
		return false
	}
	h.log.V(1).Info("reparent", "object", n.id, "from", oldParent, "to", newParent)

	h.firePathChange(n)
	h.unlink(n)
	if old != nil {
		h.childSetChanged(old)
	}
	if newParent != 0 {
		if np := h.activate(newParent); np != nil {
			n.parent = np
			np.children.Add(n.id)
			if n.pathMonitoring {
				markPathAncestors(n)
			}
			h.childSetChanged(np)
		}
	}
	if oldParent == 0 || newParent == 0 {
		h.fireRoots()
	}
	return true
}

// diffStructure compares the component and child lists of n against the
// host and reports what differs.
func (h *Hierarchy) diffStructure(n *node) {
	if h.refreshComponents(n) {
		h.fire(n.listeners, SelfComponentsChanged)
		h.fireComponentSearches(n.parent)
	}

	children := h.host.Children(n.id)
	if slices.Equal(children, n.childOrder) {
		return
	}
	previous := n.childOrder
	n.childOrder = children

	membershipChanged := false
	for _, c := range previous {
		if slices.Contains(children, c) {
			continue
		}
		membershipChanged = true
		cn, ok := h.nodes[c]
		if !ok {
			continue
		}
		if scene.Alive(h.host, c) {
			h.checkReparent(cn)
		} else {
			h.unlink(cn)
			h.dropSubtree(cn)
		}
	}
	for _, c := range children {
		if slices.Contains(previous, c) {
			continue
		}
		membershipChanged = true
		h.trackSubtree(c, n)
	}

	h.fire(n.listeners, ChildComponentsChanged)
	if membershipChanged {
		h.fireComponentSearches(n.parent)
	}
}

// refreshComponents resnapshots the component list of n, retiring listeners
// of components that disappeared. It reports whether anything changed.
func (h *Hierarchy) refreshComponents(n *node) bool {
	components := h.host.Components(n.id)
	digest := h.digest(components)
	if digest == n.componentDigest && slices.Equal(components, n.components) {
		return false
	}
	for _, c := range n.components {
		if !slices.Contains(components, c) {
			h.retireObject(c)
		}
	}
	n.components = components
	n.componentDigest = digest
	return true
}

// destroyNode handles a tracked object that no longer exists.
func (h *Hierarchy) destroyNode(n *node) {
	h.log.V(1).Info("destroyed", "object", n.id)
	parent := n.parent
	h.dropSubtree(n)
	if parent != nil {
		h.childSetChanged(parent)
	} else {
		h.fireRoots()
	}
}

// destroyUntracked handles a destroyed object nobody shadowed. Its old parent
// can only be recovered from a tracked parent's child list; failing that,
// every recursive search and the root set are told.
func (h *Hierarchy) destroyUntracked(id scene.ObjectID) {
	h.retireObject(id)
	if p := h.formerParent(id); p != nil {
		h.childSetChanged(p)
		return
	}
	h.fireAllComponentSearches()
	h.fireRoots()
}

// moveUntracked handles a possible reparent of an object with no shadow.
// When no tracked node remembers it as a child, it may have left any
// recursive search, so all of them are told.
func (h *Hierarchy) moveUntracked(id scene.ObjectID) {
	newParent := h.host.Parent(id)
	switch old := h.formerParent(id); {
	case old == nil:
		h.fireAllComponentSearches()
	case old.id != newParent:
		h.childSetChanged(old)
	}
	if np, ok := h.nodes[newParent]; ok {
		h.trackSubtree(id, np)
		h.childSetChanged(np)
	} else {
		h.fireComponentSearches(h.nearestTracked(newParent))
	}
	h.fireRoots()
}

func (h *Hierarchy) fireAllComponentSearches() {
	for _, n := range h.nodes {
		if n.componentMonitoring {
			h.fire(n.listeners, ChildComponentsChanged)
		}
	}
}
