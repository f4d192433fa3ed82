// Package hierarchy keeps a shadow copy of the parts of the host object tree
// that somebody is watching. The host only ever says "this object changed";
// diffing against the shadow tells what it changed from.
//
// A Hierarchy is owned by a single goroutine. Its listener sets are safe to
// dispose from anywhere, but every other method must run on the owner.
package hierarchy

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/listeners"
	"github.com/delaneyj/changestream/scene"
	"github.com/go-logr/logr"
)

// node is the shadow of one game object.
type node struct {
	id       scene.ObjectID
	parent   *node
	children mapset.Set[scene.ObjectID] // tracked children only

	childOrder      []scene.ObjectID // last-known host child list
	components      []scene.ObjectID // last-known host component list
	componentDigest uint64

	listeners *listeners.Set[Event]

	// pathMonitoring is set on a watched node and all of its ancestors, so a
	// reparent only walks subtrees that contain a path watch.
	pathMonitoring bool
	// componentMonitoring marks a recursive component search rooted here.
	componentMonitoring bool
}

// Observer is told how many listeners each delivered event fired and pruned.
type Observer func(ev Event, fired, pruned int)

type Hierarchy struct {
	host     scene.Host
	log      logr.Logger
	setOpts  []listeners.Option
	observer Observer

	nodes   map[scene.ObjectID]*node
	objects map[scene.ObjectID]*listeners.Set[Event] // components and assets
	roots   *listeners.Set[Event]
}

type Option func(*Hierarchy)

func WithLogger(log logr.Logger) Option {
	return func(h *Hierarchy) {
		h.log = log
	}
}

// WithListenerOptions is applied to every listener set the hierarchy creates.
func WithListenerOptions(opts ...listeners.Option) Option {
	return func(h *Hierarchy) {
		h.setOpts = append(h.setOpts, opts...)
	}
}

func WithObserver(o Observer) Option {
	return func(h *Hierarchy) {
		h.observer = o
	}
}

func New(host scene.Host, opts ...Option) *Hierarchy {
	h := &Hierarchy{
		host:    host,
		nodes:   map[scene.ObjectID]*node{},
		objects: map[scene.ObjectID]*listeners.Set[Event]{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.setOpts = append([]listeners.Option{listeners.WithLogger(h.log)}, h.setOpts...)
	h.roots = h.newSet()
	return h
}

func (h *Hierarchy) newSet() *listeners.Set[Event] {
	return listeners.New[Event](h.setOpts...)
}

// Len is the number of shadowed game objects.
func (h *Hierarchy) Len() int {
	return len(h.nodes)
}

func (h *Hierarchy) Tracked(id scene.ObjectID) bool {
	_, ok := h.nodes[id]
	return ok
}

// ShadowParent is the parent recorded in the shadow tree, if id is tracked.
func (h *Hierarchy) ShadowParent(id scene.ObjectID) (scene.ObjectID, bool) {
	n, ok := h.nodes[id]
	if !ok {
		return 0, false
	}
	if n.parent == nil {
		return 0, true
	}
	return n.parent.id, true
}

// --- Registration ---

// RegisterRootSetListener watches the set of scene roots.
func (h *Hierarchy) RegisterRootSetListener(filter listeners.Filter[Event], ctx *compute.Context) listeners.Disposer {
	return h.roots.Register(filter, ctx)
}

// RegisterGameObjectListener watches a game object. A stale id yields a
// listener that never fires.
func (h *Hierarchy) RegisterGameObjectListener(id scene.ObjectID, filter listeners.Filter[Event], ctx *compute.Context) listeners.Disposer {
	n := h.activate(id)
	if n == nil {
		return listeners.Nop
	}
	return n.listeners.Register(filter, ctx)
}

// RegisterObjectListener watches a component or an asset.
func (h *Hierarchy) RegisterObjectListener(id scene.ObjectID, filter listeners.Filter[Event], ctx *compute.Context) listeners.Disposer {
	if !scene.Alive(h.host, id) {
		return listeners.Nop
	}
	set, ok := h.objects[id]
	if !ok {
		set = h.newSet()
		h.objects[id] = set
	}
	return set.Register(filter, ctx)
}

func (h *Hierarchy) EnablePathMonitoring(id scene.ObjectID) {
	if n := h.activate(id); n != nil {
		n.pathMonitoring = true
		markPathAncestors(n)
	}
}

func markPathAncestors(n *node) {
	for p := n.parent; p != nil && !p.pathMonitoring; p = p.parent {
		p.pathMonitoring = true
	}
}

func (h *Hierarchy) EnableComponentMonitoring(id scene.ObjectID) {
	if n := h.activate(id); n != nil {
		n.componentMonitoring = true
	}
}

// --- Shadow maintenance ---

// activate returns the shadow of a live game object, creating it and its
// ancestor chain from current host state if needed.
func (h *Hierarchy) activate(id scene.ObjectID) *node {
	if n, ok := h.nodes[id]; ok {
		return n
	}
	if kind, ok := h.host.Kind(id); !ok || kind != scene.KindGameObject {
		return nil
	}
	n := h.newNode(id)
	if p := h.host.Parent(id); p != 0 {
		if pn := h.activate(p); pn != nil {
			n.parent = pn
			pn.children.Add(id)
		}
	}
	return n
}

func (h *Hierarchy) newNode(id scene.ObjectID) *node {
	n := &node{
		id:        id,
		children:  mapset.NewThreadUnsafeSet[scene.ObjectID](),
		listeners: h.newSet(),
	}
	n.childOrder = h.host.Children(id)
	n.components = h.host.Components(id)
	n.componentDigest = h.digest(n.components)
	h.nodes[id] = n
	return n
}

// trackSubtree shadows a freshly created subtree under parent. Objects that
// already have a shadow were moved in rather than created and get a
// reparent check instead.
func (h *Hierarchy) trackSubtree(id scene.ObjectID, parent *node) {
	if n, ok := h.nodes[id]; ok {
		h.checkReparent(n)
		return
	}
	if kind, ok := h.host.Kind(id); !ok || kind != scene.KindGameObject {
		return
	}
	n := h.newNode(id)
	n.parent = parent
	if parent != nil {
		parent.children.Add(id)
	}
	for _, c := range n.childOrder {
		h.trackSubtree(c, n)
	}
}

// digest fingerprints the ordered component identities and their types.
func (h *Hierarchy) digest(components []scene.ObjectID) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, c := range components {
		binary.LittleEndian.PutUint64(buf[:], uint64(c))
		d.Write(buf[:])
		d.WriteString(h.host.ComponentType(c))
		d.Write([]byte{0})
	}
	return d.Sum64()
}

// nearestTracked walks host parents from id to the closest shadowed object.
func (h *Hierarchy) nearestTracked(id scene.ObjectID) *node {
	for cur := id; cur != 0; cur = h.host.Parent(cur) {
		if n, ok := h.nodes[cur]; ok {
			return n
		}
	}
	return nil
}

// formerParent finds the tracked node whose last-known child list holds id.
func (h *Hierarchy) formerParent(id scene.ObjectID) *node {
	for _, n := range h.nodes {
		if slices.Contains(n.childOrder, id) {
			return n
		}
	}
	return nil
}

func (h *Hierarchy) unlink(n *node) {
	if n.parent != nil {
		n.parent.children.Remove(n.id)
		n.parent = nil
	}
}

// dropSubtree forgets n and everything below it, retiring their listeners.
func (h *Hierarchy) dropSubtree(n *node) {
	for _, c := range n.children.ToSlice() {
		if cn, ok := h.nodes[c]; ok {
			h.dropSubtree(cn)
		}
	}
	for _, c := range n.components {
		h.retireObject(c)
	}
	h.unlink(n)
	h.retire(n.listeners)
	delete(h.nodes, n.id)
}

// Prune drops reclaimed listeners, shadows of objects that no longer exist,
// and shadow leaves nobody watches.
func (h *Hierarchy) Prune() {
	h.roots.Prune()
	for id, set := range h.objects {
		set.Prune()
		if !set.HasListeners() {
			delete(h.objects, id)
		}
	}
	for id, n := range h.nodes {
		if !scene.Alive(h.host, id) {
			h.destroyNode(n)
			continue
		}
		n.listeners.Prune()
	}
	for _, n := range h.nodes {
		h.trimIdle(n)
	}
}

func (h *Hierarchy) trimIdle(n *node) {
	for n != nil {
		if _, ok := h.nodes[n.id]; !ok {
			return
		}
		if n.children.Cardinality() > 0 || n.listeners.HasListeners() || n.componentMonitoring {
			return
		}
		parent := n.parent
		h.unlink(n)
		delete(h.nodes, n.id)
		n = parent
	}
}

// --- Delivery ---

func (h *Hierarchy) fire(set *listeners.Set[Event], ev Event) {
	fired, pruned := set.Fire(ev)
	if h.observer != nil {
		h.observer(ev, fired, pruned)
	}
}

// retire delivers ForceInvalidate, then force-fires whatever declined it: the
// set is about to be forgotten and its listeners would never hear again.
func (h *Hierarchy) retire(set *listeners.Set[Event]) {
	h.fire(set, ForceInvalidate)
	if n := set.ForceFireAll(); n > 0 && h.observer != nil {
		h.observer(ForceInvalidate, n, 0)
	}
}

func (h *Hierarchy) fireObject(id scene.ObjectID, ev Event) {
	if set, ok := h.objects[id]; ok {
		h.fire(set, ev)
	}
}

func (h *Hierarchy) retireObject(id scene.ObjectID) {
	if set, ok := h.objects[id]; ok {
		h.retire(set)
		delete(h.objects, id)
	}
}

func (h *Hierarchy) fireRoots() {
	h.fire(h.roots, ChildComponentsChanged)
}

// fireComponentSearches notifies every recursive component search rooted at
// n or above.
func (h *Hierarchy) fireComponentSearches(n *node) {
	for p := n; p != nil; p = p.parent {
		if p.componentMonitoring {
			h.fire(p.listeners, ChildComponentsChanged)
		}
	}
}

// childSetChanged notifies a parent whose child list changed, and the
// recursive searches above it.
func (h *Hierarchy) childSetChanged(p *node) {
	p.childOrder = h.host.Children(p.id)
	h.fire(p.listeners, ChildComponentsChanged)
	h.fireComponentSearches(p.parent)
}

func (h *Hierarchy) firePathChange(n *node) {
	if !n.pathMonitoring {
		return
	}
	h.fire(n.listeners, PathChange)
	for _, c := range n.children.ToSlice() {
		if cn, ok := h.nodes[c]; ok {
			h.firePathChange(cn)
		}
	}
}

// InvalidateAll force-invalidates every listener and forgets the shadow tree.
// The shadow is rebuilt lazily by the next registrations.
func (h *Hierarchy) InvalidateAll() {
	h.log.V(1).Info("invalidating all listeners", "shadowed", len(h.nodes), "objects", len(h.objects))
	nodes, objects := h.nodes, h.objects
	h.nodes = map[scene.ObjectID]*node{}
	h.objects = map[scene.ObjectID]*listeners.Set[Event]{}
	for _, n := range nodes {
		h.retire(n.listeners)
	}
	for _, set := range objects {
		h.retire(set)
	}
	h.retire(h.roots)
}
