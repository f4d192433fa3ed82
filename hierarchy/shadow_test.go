package hierarchy_test

import (
	"slices"
	"testing"

	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/hierarchy"
	"github.com/delaneyj/changestream/listeners"
	"github.com/delaneyj/changestream/scene"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Main
// ├── A
// │   └── B
// │       └── C
// └── D
type fixture struct {
	g          *scene.Graph
	h          *hierarchy.Hierarchy
	scn        scene.SceneID
	a, b, c, d scene.ObjectID
}

func newFixture(t *testing.T, wired bool, opts ...hierarchy.Option) *fixture {
	t.Helper()
	g := scene.NewGraph()
	f := &fixture{g: g, scn: g.AddScene("Main")}
	var err error
	f.a, err = g.CreateObject(f.scn, 0, "A")
	require.NoError(t, err)
	f.b, err = g.CreateObject(f.scn, f.a, "B")
	require.NoError(t, err)
	f.c, err = g.CreateObject(f.scn, f.b, "C")
	require.NoError(t, err)
	f.d, err = g.CreateObject(f.scn, 0, "D")
	require.NoError(t, err)

	f.h = hierarchy.New(g, append([]hierarchy.Option{hierarchy.WithLogger(testr.New(t))}, opts...)...)
	if wired {
		g.OnChange(f.h.Apply)
	}
	return f
}

func on(events ...hierarchy.Event) listeners.Filter[hierarchy.Event] {
	return func(e hierarchy.Event) bool {
		return slices.Contains(events, e)
	}
}

func TestReparentFiresPathAndParentEvents(t *testing.T) {
	f := newFixture(t, true)

	path := compute.New("path C")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.PathChange), path)
	f.h.EnablePathMonitoring(f.c)

	oldParent := compute.New("children of B")
	f.h.RegisterGameObjectListener(f.b, on(hierarchy.ChildComponentsChanged), oldParent)
	newParent := compute.New("children of D")
	f.h.RegisterGameObjectListener(f.d, on(hierarchy.ChildComponentsChanged), newParent)

	require.NoError(t, f.g.SetParent(f.c, f.d))

	assert.True(t, path.IsInvalidated())
	assert.True(t, oldParent.IsInvalidated())
	assert.True(t, newParent.IsInvalidated())

	parent, ok := f.h.ShadowParent(f.c)
	require.True(t, ok)
	assert.Equal(t, f.d, parent)
}

func TestAncestorReparentChangesDescendantPath(t *testing.T) {
	f := newFixture(t, true)

	path := compute.New("path C")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.PathChange), path)
	f.h.EnablePathMonitoring(f.c)

	require.NoError(t, f.g.SetParent(f.b, f.d))
	assert.True(t, path.IsInvalidated())
}

func TestUnrelatedReparentLeavesPathAlone(t *testing.T) {
	f := newFixture(t, true)

	path := compute.New("path C")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.PathChange), path)
	f.h.EnablePathMonitoring(f.c)

	e, err := f.g.CreateObject(f.scn, f.d, "E")
	require.NoError(t, err)
	require.NoError(t, f.g.SetParent(e, 0))
	assert.False(t, path.IsInvalidated())
}

func TestComponentChangeNotifiesSelfAndMonitoredAncestors(t *testing.T) {
	f := newFixture(t, true)

	self := compute.New("components of C")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.SelfComponentsChanged), self)

	search := compute.New("search under A")
	f.h.RegisterGameObjectListener(f.a, on(hierarchy.ChildComponentsChanged), search)
	f.h.EnableComponentMonitoring(f.a)

	unmonitored := compute.New("B without search")
	f.h.RegisterGameObjectListener(f.b, on(hierarchy.ChildComponentsChanged), unmonitored)

	_, err := f.g.AddComponent(f.c, scene.TypeRenderer, nil)
	require.NoError(t, err)

	assert.True(t, self.IsInvalidated())
	assert.True(t, search.IsInvalidated())
	assert.False(t, unmonitored.IsInvalidated())
}

func TestUntrackedComponentChangeReachesSearchRoot(t *testing.T) {
	f := newFixture(t, true)

	search := compute.New("search under A")
	f.h.RegisterGameObjectListener(f.a, on(hierarchy.ChildComponentsChanged), search)
	f.h.EnableComponentMonitoring(f.a)
	require.False(t, f.h.Tracked(f.c))

	_, err := f.g.AddComponent(f.c, scene.TypeRenderer, nil)
	require.NoError(t, err)
	assert.True(t, search.IsInvalidated())
}

func TestComponentPropertyFiresObjectDirty(t *testing.T) {
	f := newFixture(t, true)
	comp, err := f.g.AddComponent(f.c, scene.TypeRenderer, map[string]any{scene.PropEnabled: true})
	require.NoError(t, err)

	dirty := compute.New("renderer props")
	f.h.RegisterObjectListener(comp, on(hierarchy.ObjectDirty), dirty)

	require.NoError(t, f.g.SetProperty(comp, scene.PropEnabled, false))
	assert.True(t, dirty.IsInvalidated())
}

func TestGameObjectPropertyIsTreatedAsComponentReorder(t *testing.T) {
	f := newFixture(t, true)

	self := compute.New("components of C")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.SelfComponentsChanged), self)
	search := compute.New("search under A")
	f.h.RegisterGameObjectListener(f.a, on(hierarchy.ChildComponentsChanged), search)
	f.h.EnableComponentMonitoring(f.a)

	require.NoError(t, f.g.SetActive(f.c, false))
	assert.True(t, self.IsInvalidated())
	assert.True(t, search.IsInvalidated())
}

func TestChildrenReorderNotifiesParent(t *testing.T) {
	f := newFixture(t, true)
	e, err := f.g.CreateObject(f.scn, f.a, "E")
	require.NoError(t, err)

	order := compute.New("children of A")
	f.h.RegisterGameObjectListener(f.a, on(hierarchy.ChildComponentsChanged), order)
	selfOnly := compute.New("components of A")
	f.h.RegisterGameObjectListener(f.a, on(hierarchy.SelfComponentsChanged), selfOnly)

	require.NoError(t, f.g.SetChildIndex(e, 0))
	assert.True(t, order.IsInvalidated())
	assert.False(t, selfOnly.IsInvalidated())
}

func TestSceneChangeInvalidatesEverythingAndClearsShadow(t *testing.T) {
	f := newFixture(t, true)

	picky := compute.New("path only")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.PathChange), picky)
	force := compute.New("force")
	f.h.RegisterGameObjectListener(f.b, on(hierarchy.ForceInvalidate), force)
	roots := compute.New("roots")
	f.h.RegisterRootSetListener(on(hierarchy.ForceInvalidate), roots)
	require.Positive(t, f.h.Len())

	f.g.AddScene("Other")

	assert.True(t, picky.IsInvalidated())
	assert.True(t, force.IsInvalidated())
	assert.True(t, roots.IsInvalidated())
	assert.Zero(t, f.h.Len())
}

func TestDestroyRetiresSubtreeAndComponents(t *testing.T) {
	f := newFixture(t, true)
	comp, err := f.g.AddComponent(f.c, scene.TypeRenderer, nil)
	require.NoError(t, err)

	obj := compute.New("C props")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.ObjectDirty), obj)
	compCtx := compute.New("renderer")
	f.h.RegisterObjectListener(comp, on(hierarchy.ObjectDirty), compCtx)
	parent := compute.New("children of A")
	f.h.RegisterGameObjectListener(f.a, on(hierarchy.ChildComponentsChanged), parent)

	require.NoError(t, f.g.Destroy(f.b))

	assert.True(t, obj.IsInvalidated())
	assert.True(t, compCtx.IsInvalidated())
	assert.True(t, parent.IsInvalidated())
	assert.False(t, f.h.Tracked(f.b))
	assert.False(t, f.h.Tracked(f.c))
}

func TestDestroyUntrackedChildNotifiesFormerParent(t *testing.T) {
	f := newFixture(t, true)
	children := compute.New("children of B")
	f.h.RegisterGameObjectListener(f.b, on(hierarchy.ChildComponentsChanged), children)
	require.False(t, f.h.Tracked(f.c))

	require.NoError(t, f.g.Destroy(f.c))
	assert.True(t, children.IsInvalidated())
}

func TestUntrackedMoveOutOfSearchNotifiesSearch(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.g.AddComponent(f.c, scene.TypeRenderer, nil)
	require.NoError(t, err)

	search := compute.New("search under A")
	f.h.RegisterGameObjectListener(f.a, on(hierarchy.ChildComponentsChanged), search)
	f.h.EnableComponentMonitoring(f.a)
	require.False(t, f.h.Tracked(f.b))
	require.False(t, f.h.Tracked(f.c))

	require.NoError(t, f.g.SetParent(f.c, 0))
	assert.True(t, search.IsInvalidated(), "C left A's subtree with its renderer")
}

func TestUntrackedMoveFromTrackedParentNotifiesIt(t *testing.T) {
	f := newFixture(t, true)
	children := compute.New("children of B")
	f.h.RegisterGameObjectListener(f.b, on(hierarchy.ChildComponentsChanged), children)
	require.False(t, f.h.Tracked(f.c))

	require.NoError(t, f.g.SetParent(f.c, f.d))
	assert.True(t, children.IsInvalidated())
}

func TestCreateUnderTrackedParent(t *testing.T) {
	f := newFixture(t, true)
	search := compute.New("search under A")
	f.h.RegisterGameObjectListener(f.a, on(hierarchy.ChildComponentsChanged), search)
	f.h.EnableComponentMonitoring(f.a)
	children := compute.New("children of B")
	f.h.RegisterGameObjectListener(f.b, on(hierarchy.ChildComponentsChanged), children)

	e, err := f.g.CreateObject(f.scn, f.b, "E")
	require.NoError(t, err)

	assert.True(t, children.IsInvalidated())
	assert.True(t, search.IsInvalidated())
	assert.True(t, f.h.Tracked(e))
}

func TestRootSetChanges(t *testing.T) {
	f := newFixture(t, true)

	created := compute.New("roots after create")
	f.h.RegisterRootSetListener(nil, created)
	_, err := f.g.CreateObject(f.scn, 0, "E")
	require.NoError(t, err)
	assert.True(t, created.IsInvalidated())

	f.h.RegisterGameObjectListener(f.c, on(hierarchy.ObjectDirty), compute.New("track C"))
	moved := compute.New("roots after move")
	f.h.RegisterRootSetListener(nil, moved)
	require.NoError(t, f.g.SetParent(f.c, 0))
	assert.True(t, moved.IsInvalidated())
}

func TestAssets(t *testing.T) {
	f := newFixture(t, true)
	asset := f.g.CreateAsset("material", map[string]any{"color": "red"})

	dirty := compute.New("asset props")
	f.h.RegisterObjectListener(asset, on(hierarchy.ObjectDirty), dirty)
	require.NoError(t, f.g.SetProperty(asset, "color", "blue"))
	assert.True(t, dirty.IsInvalidated())

	gone := compute.New("asset lifetime")
	f.h.RegisterObjectListener(asset, on(hierarchy.ForceInvalidate), gone)
	f.g.CreateAsset("unrelated", nil)
	assert.False(t, gone.IsInvalidated())
	require.NoError(t, f.g.DestroyAsset(asset))
	assert.True(t, gone.IsInvalidated())
}

func TestPrefabUpdateFindsMissedReparent(t *testing.T) {
	f := newFixture(t, false)

	path := compute.New("path C")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.PathChange), path)
	f.h.EnablePathMonitoring(f.c)

	// The move itself is never reported.
	require.NoError(t, f.g.SetParent(f.c, f.a))
	assert.False(t, path.IsInvalidated())

	f.h.Apply(scene.Change{Category: scene.UpdatePrefabInstances, Object: f.a})
	assert.True(t, path.IsInvalidated())

	parent, _ := f.h.ShadowParent(f.c)
	assert.Equal(t, f.a, parent)
}

func TestStaleRegistrationNeverFires(t *testing.T) {
	f := newFixture(t, true)
	ctx := compute.New("stale")
	d := f.h.RegisterGameObjectListener(scene.ObjectID(9999), nil, ctx)
	require.NotNil(t, d)
	d.Dispose()
	f.g.AddScene("Other")
	assert.False(t, ctx.IsInvalidated())
}

func TestPruneDropsDestroyedShadows(t *testing.T) {
	f := newFixture(t, false)
	ctx := compute.New("C")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.ObjectDirty), ctx)
	require.NoError(t, f.g.Destroy(f.c))

	f.h.Prune()
	assert.True(t, ctx.IsInvalidated())
	assert.False(t, f.h.Tracked(f.c))
}

func TestPruneTrimsIdleLeaves(t *testing.T) {
	f := newFixture(t, false)
	d := f.h.RegisterGameObjectListener(f.c, nil, compute.New("C"))
	require.True(t, f.h.Tracked(f.a))

	d.Dispose()
	f.h.Prune()
	assert.Zero(t, f.h.Len())
}

func TestObserverCountsDeliveries(t *testing.T) {
	fired := map[hierarchy.Event]int{}
	f := newFixture(t, true, hierarchy.WithObserver(func(ev hierarchy.Event, n, _ int) {
		fired[ev] += n
	}))
	ctx := compute.New("C")
	f.h.RegisterGameObjectListener(f.c, nil, ctx)

	require.NoError(t, f.g.SetActive(f.c, false))
	assert.Equal(t, 1, fired[hierarchy.ObjectDirty])
	assert.True(t, ctx.IsInvalidated())
}

func TestUnknownCategoryInvalidatesEverything(t *testing.T) {
	f := newFixture(t, false)
	ctx := compute.New("C")
	f.h.RegisterGameObjectListener(f.c, on(hierarchy.PathChange), ctx)

	f.h.Apply(scene.Change{Category: scene.Category(200), Object: f.c})
	assert.True(t, ctx.IsInvalidated())
}
