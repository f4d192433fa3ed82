package scene

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
)

var (
	ErrStale = errors.New("scene: stale object reference")
	ErrCycle = errors.New("scene: reparent would create a cycle")
	ErrKind  = errors.New("scene: wrong object kind")
)

type object struct {
	id       ObjectID
	kind     Kind
	name     string
	scene    SceneID
	parent   ObjectID // game objects
	owner    ObjectID // components
	children []ObjectID
	comps    []ObjectID
	hide     HideFlags
	props    map[string]any
}

type sceneData struct {
	id     SceneID
	name   string
	loaded bool
	roots  []ObjectID
}

// Graph is a thread-safe in-memory Host. Every mutation reports the raw
// change a real editor would, to the callbacks registered with OnChange; the
// Silently variants skip the report.
type Graph struct {
	mu      sync.RWMutex
	nextID  ObjectID
	objects map[ObjectID]*object
	scenes  []*sceneData
	sinks   []func(Change)
}

func NewGraph() *Graph {
	return &Graph{objects: map[ObjectID]*object{}}
}

// OnChange registers fn to receive every raw change. fn runs on the mutating
// goroutine, after the graph lock is released.
func (g *Graph) OnChange(fn func(Change)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinks = append(g.sinks, fn)
}

func (g *Graph) emit(changes ...Change) {
	g.mu.RLock()
	sinks := slices.Clone(g.sinks)
	g.mu.RUnlock()
	for _, c := range changes {
		for _, sink := range sinks {
			sink(c)
		}
	}
}

func (g *Graph) newIDLocked() ObjectID {
	g.nextID++
	return g.nextID
}

// --- Scenes ---

func (g *Graph) AddScene(name string) SceneID {
	g.mu.Lock()
	id := SceneID(len(g.scenes) + 1)
	g.scenes = append(g.scenes, &sceneData{id: id, name: name, loaded: true})
	g.mu.Unlock()
	g.emit(Change{Category: SceneChanged})
	return id
}

// UnloadScene destroys every object in the scene.
func (g *Graph) UnloadScene(id SceneID) {
	g.mu.Lock()
	s := g.sceneLocked(id)
	if s == nil || !s.loaded {
		g.mu.Unlock()
		return
	}
	for _, root := range s.roots {
		g.destroyLocked(root)
	}
	s.roots = nil
	s.loaded = false
	g.mu.Unlock()
	g.emit(Change{Category: SceneChanged})
}

func (g *Graph) sceneLocked(id SceneID) *sceneData {
	if id <= 0 || int(id) > len(g.scenes) {
		return nil
	}
	return g.scenes[id-1]
}

func (g *Graph) SceneName(id SceneID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s := g.sceneLocked(id); s != nil {
		return s.name
	}
	return ""
}

// --- Game objects ---

// CreateObject adds a game object under parent, or as a root of scene when
// parent is zero.
func (g *Graph) CreateObject(scene SceneID, parent ObjectID, name string) (ObjectID, error) {
	g.mu.Lock()
	s := g.sceneLocked(scene)
	if parent != 0 {
		p, ok := g.objects[parent]
		if !ok || p.kind != KindGameObject {
			g.mu.Unlock()
			return 0, ErrStale
		}
		s = g.sceneLocked(p.scene)
	}
	if s == nil || !s.loaded {
		g.mu.Unlock()
		return 0, ErrStale
	}
	o := &object{
		id:     g.newIDLocked(),
		kind:   KindGameObject,
		name:   name,
		scene:  s.id,
		parent: parent,
		props:  map[string]any{PropActive: true},
	}
	g.objects[o.id] = o
	if parent == 0 {
		s.roots = append(s.roots, o.id)
	} else {
		p := g.objects[parent]
		p.children = append(p.children, o.id)
	}
	g.mu.Unlock()
	g.emit(Change{Category: CreateGameObjectHierarchy, Object: o.id})
	return o.id, nil
}

// SetParent moves obj under parent (zero for a scene root), keeping its scene.
func (g *Graph) SetParent(obj, parent ObjectID) error {
	g.mu.Lock()
	o, ok := g.objects[obj]
	if !ok || o.kind != KindGameObject {
		g.mu.Unlock()
		return ErrStale
	}
	if parent != 0 {
		p, ok := g.objects[parent]
		if !ok || p.kind != KindGameObject {
			g.mu.Unlock()
			return ErrStale
		}
		for a := parent; a != 0; a = g.objects[a].parent {
			if a == obj {
				g.mu.Unlock()
				return ErrCycle
			}
		}
	}
	if o.parent == parent {
		g.mu.Unlock()
		return nil
	}
	g.detachLocked(o)
	o.parent = parent
	if parent == 0 {
		s := g.sceneLocked(o.scene)
		s.roots = append(s.roots, obj)
	} else {
		p := g.objects[parent]
		p.children = append(p.children, obj)
		g.setSceneLocked(o, p.scene)
	}
	g.mu.Unlock()
	g.emit(Change{Category: ChangeGameObjectStructureHierarchy, Object: obj})
	return nil
}

func (g *Graph) setSceneLocked(o *object, scene SceneID) {
	o.scene = scene
	for _, c := range o.children {
		g.setSceneLocked(g.objects[c], scene)
	}
}

func (g *Graph) detachLocked(o *object) {
	if o.parent == 0 {
		if s := g.sceneLocked(o.scene); s != nil {
			s.roots = removeID(s.roots, o.id)
		}
		return
	}
	if p, ok := g.objects[o.parent]; ok {
		p.children = removeID(p.children, o.id)
	}
}

// SetChildIndex moves obj to index among its siblings.
func (g *Graph) SetChildIndex(obj ObjectID, index int) error {
	g.mu.Lock()
	o, ok := g.objects[obj]
	if !ok || o.kind != KindGameObject {
		g.mu.Unlock()
		return ErrStale
	}
	var siblings *[]ObjectID
	if o.parent == 0 {
		siblings = &g.sceneLocked(o.scene).roots
	} else {
		siblings = &g.objects[o.parent].children
	}
	index = max(0, min(index, len(*siblings)-1))
	rest := removeID(*siblings, obj)
	*siblings = slices.Insert(rest, index, obj)
	parent := o.parent
	g.mu.Unlock()
	g.emit(Change{Category: ChangeChildrenOrder, Object: parent})
	return nil
}

// Destroy removes obj, its components and its whole subtree.
func (g *Graph) Destroy(obj ObjectID) error {
	g.mu.Lock()
	o, ok := g.objects[obj]
	if !ok || o.kind != KindGameObject {
		g.mu.Unlock()
		return ErrStale
	}
	g.detachLocked(o)
	g.destroyLocked(obj)
	g.mu.Unlock()
	g.emit(Change{Category: ChangeGameObjectStructureHierarchy, Object: obj})
	return nil
}

func (g *Graph) destroyLocked(id ObjectID) {
	o, ok := g.objects[id]
	if !ok {
		return
	}
	for _, c := range o.children {
		g.destroyLocked(c)
	}
	for _, c := range o.comps {
		delete(g.objects, c)
	}
	delete(g.objects, id)
}

func (g *Graph) SetActive(obj ObjectID, active bool) error {
	return g.SetProperty(obj, PropActive, active)
}

func (g *Graph) SetHideFlags(id ObjectID, flags HideFlags) error {
	g.mu.Lock()
	o, ok := g.objects[id]
	if !ok {
		g.mu.Unlock()
		return ErrStale
	}
	o.hide = flags
	g.mu.Unlock()
	g.emit(propertyChange(o))
	return nil
}

// ReportPrefabUpdate reports that the prefab instance rooted at obj was
// refreshed from its source.
func (g *Graph) ReportPrefabUpdate(obj ObjectID) {
	g.emit(Change{Category: UpdatePrefabInstances, Object: obj})
}

// --- Components ---

func (g *Graph) AddComponent(obj ObjectID, typ string, props map[string]any) (ObjectID, error) {
	g.mu.Lock()
	o, ok := g.objects[obj]
	if !ok || o.kind != KindGameObject {
		g.mu.Unlock()
		return 0, ErrStale
	}
	c := &object{
		id:    g.newIDLocked(),
		kind:  KindComponent,
		name:  typ,
		scene: o.scene,
		owner: obj,
		props: maps.Clone(props),
	}
	if c.props == nil {
		c.props = map[string]any{}
	}
	g.objects[c.id] = c
	o.comps = append(o.comps, c.id)
	g.mu.Unlock()
	g.emit(Change{Category: ChangeGameObjectStructure, Object: obj})
	return c.id, nil
}

func (g *Graph) RemoveComponent(comp ObjectID) error {
	g.mu.Lock()
	c, ok := g.objects[comp]
	if !ok || c.kind != KindComponent {
		g.mu.Unlock()
		return ErrStale
	}
	owner := g.objects[c.owner]
	owner.comps = removeID(owner.comps, comp)
	delete(g.objects, comp)
	g.mu.Unlock()
	g.emit(Change{Category: ChangeGameObjectStructure, Object: owner.id})
	return nil
}

// --- Assets ---

func (g *Graph) CreateAsset(name string, props map[string]any) ObjectID {
	g.mu.Lock()
	a := &object{
		id:    g.newIDLocked(),
		kind:  KindAsset,
		name:  name,
		props: maps.Clone(props),
	}
	if a.props == nil {
		a.props = map[string]any{}
	}
	g.objects[a.id] = a
	g.mu.Unlock()
	g.emit(Change{Category: CreateAssetObject, Object: a.id})
	return a.id
}

func (g *Graph) DestroyAsset(id ObjectID) error {
	g.mu.Lock()
	a, ok := g.objects[id]
	if !ok || a.kind != KindAsset {
		g.mu.Unlock()
		return ErrStale
	}
	delete(g.objects, id)
	g.mu.Unlock()
	g.emit(Change{Category: DestroyAssetObject, Object: id})
	return nil
}

// --- Properties ---

// SetProperty writes a property and reports it.
func (g *Graph) SetProperty(id ObjectID, key string, value any) error {
	o, err := g.setProperty(id, key, value)
	if err != nil {
		return err
	}
	g.emit(propertyChange(o))
	return nil
}

// SetPropertySilently writes a property without reporting anything, like a
// value the editor changes behind the change stream's back.
func (g *Graph) SetPropertySilently(id ObjectID, key string, value any) error {
	_, err := g.setProperty(id, key, value)
	return err
}

func (g *Graph) setProperty(id ObjectID, key string, value any) (*object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.objects[id]
	if !ok {
		return nil, ErrStale
	}
	o.props[key] = value
	return o, nil
}

func propertyChange(o *object) Change {
	if o.kind == KindAsset {
		return Change{Category: ChangeAssetObjectProperties, Object: o.id}
	}
	return Change{Category: ChangeGameObjectOrComponentProperties, Object: o.id}
}

// --- Host ---

var _ Host = (*Graph)(nil)

func (g *Graph) Scenes() []SceneID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []SceneID
	for _, s := range g.scenes {
		if s.loaded {
			out = append(out, s.id)
		}
	}
	return out
}

func (g *Graph) Roots(scene SceneID) []ObjectID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := g.sceneLocked(scene)
	if s == nil || !s.loaded {
		return nil
	}
	return slices.Clone(s.roots)
}

func (g *Graph) Kind(id ObjectID) (Kind, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.objects[id]
	if !ok {
		return 0, false
	}
	return o.kind, true
}

func (g *Graph) Parent(id ObjectID) ObjectID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if o, ok := g.objects[id]; ok {
		return o.parent
	}
	return 0
}

func (g *Graph) Children(id ObjectID) []ObjectID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if o, ok := g.objects[id]; ok {
		return slices.Clone(o.children)
	}
	return nil
}

func (g *Graph) Components(id ObjectID) []ObjectID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if o, ok := g.objects[id]; ok {
		return slices.Clone(o.comps)
	}
	return nil
}

func (g *Graph) Owner(component ObjectID) ObjectID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if o, ok := g.objects[component]; ok {
		return o.owner
	}
	return 0
}

func (g *Graph) ComponentType(component ObjectID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if o, ok := g.objects[component]; ok && o.kind == KindComponent {
		return o.name
	}
	return ""
}

func (g *Graph) HideFlags(id ObjectID) HideFlags {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if o, ok := g.objects[id]; ok {
		return o.hide
	}
	return 0
}

func (g *Graph) Property(id ObjectID, key string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.objects[id]
	if !ok {
		return nil, false
	}
	v, ok := o.props[key]
	return v, ok
}

func (g *Graph) Properties(id ObjectID) map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if o, ok := g.objects[id]; ok {
		return maps.Clone(o.props)
	}
	return nil
}

// --- Lookup ---

func (g *Graph) Name(id ObjectID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if o, ok := g.objects[id]; ok {
		return o.name
	}
	return ""
}

// Find resolves a "Scene/Root/Child" path to a game object.
func (g *Graph) Find(path string) (ObjectID, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return 0, false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	var candidates []ObjectID
	for _, s := range g.scenes {
		if s.loaded && s.name == parts[0] {
			candidates = s.roots
			break
		}
	}
	var found ObjectID
	for _, name := range parts[1:] {
		found = 0
		for _, id := range candidates {
			if g.objects[id].name == name {
				found = id
				break
			}
		}
		if found == 0 {
			return 0, false
		}
		candidates = g.objects[found].children
	}
	return found, true
}

// Path renders the "Scene/Root/Child" path of a game object or of a
// component's owner.
func (g *Graph) Path(id ObjectID) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.objects[id]
	if !ok {
		return id.String()
	}
	if o.kind == KindComponent {
		o = g.objects[o.owner]
	}
	var parts []string
	for cur := o; cur != nil; cur = g.objects[cur.parent] {
		parts = append(parts, cur.name)
		if cur.parent == 0 {
			break
		}
	}
	if s := g.sceneLocked(o.scene); s != nil {
		parts = append(parts, s.name)
	}
	slices.Reverse(parts)
	return strings.Join(parts, "/")
}

func removeID(ids []ObjectID, id ObjectID) []ObjectID {
	return slices.DeleteFunc(ids, func(x ObjectID) bool { return x == id })
}
