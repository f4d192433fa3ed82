package scene_test

import (
	"testing"

	"github.com/delaneyj/changestream/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(g *scene.Graph) *[]scene.Change {
	var got []scene.Change
	g.OnChange(func(c scene.Change) { got = append(got, c) })
	return &got
}

func TestCreateAndFind(t *testing.T) {
	g := scene.NewGraph()
	main := g.AddScene("Main")
	a, err := g.CreateObject(main, 0, "A")
	require.NoError(t, err)
	b, err := g.CreateObject(main, a, "B")
	require.NoError(t, err)

	found, ok := g.Find("Main/A/B")
	require.True(t, ok)
	assert.Equal(t, b, found)
	assert.Equal(t, "Main/A/B", g.Path(b))
	assert.Equal(t, []scene.ObjectID{a}, g.Roots(main))
	assert.Equal(t, a, g.Parent(b))
	assert.True(t, scene.BoolProperty(g, b, scene.PropActive, false), "objects start active")

	_, ok = g.Find("Main/B")
	assert.False(t, ok)
	_, ok = g.Find("Main")
	assert.False(t, ok)
}

func TestMutationsReportChanges(t *testing.T) {
	g := scene.NewGraph()
	main := g.AddScene("Main")
	got := recorder(g)

	a, err := g.CreateObject(main, 0, "A")
	require.NoError(t, err)
	b, err := g.CreateObject(main, 0, "B")
	require.NoError(t, err)
	comp, err := g.AddComponent(a, scene.TypeRenderer, nil)
	require.NoError(t, err)
	require.NoError(t, g.SetProperty(comp, scene.PropEnabled, false))
	require.NoError(t, g.SetPropertySilently(comp, scene.PropEnabled, true))
	require.NoError(t, g.SetParent(b, a))
	require.NoError(t, g.SetChildIndex(a, 0))
	asset := g.CreateAsset("Material", nil)
	require.NoError(t, g.SetProperty(asset, "color", "red"))
	require.NoError(t, g.Destroy(b))

	assert.Equal(t, []scene.Change{
		{Category: scene.CreateGameObjectHierarchy, Object: a},
		{Category: scene.CreateGameObjectHierarchy, Object: b},
		{Category: scene.ChangeGameObjectStructure, Object: a},
		{Category: scene.ChangeGameObjectOrComponentProperties, Object: comp},
		{Category: scene.ChangeGameObjectStructureHierarchy, Object: b},
		{Category: scene.ChangeChildrenOrder, Object: 0},
		{Category: scene.CreateAssetObject, Object: asset},
		{Category: scene.ChangeAssetObjectProperties, Object: asset},
		{Category: scene.ChangeGameObjectStructureHierarchy, Object: b},
	}, *got)
}

func TestReparentRejectsCycles(t *testing.T) {
	g := scene.NewGraph()
	main := g.AddScene("Main")
	a, _ := g.CreateObject(main, 0, "A")
	b, _ := g.CreateObject(main, a, "B")

	assert.ErrorIs(t, g.SetParent(a, b), scene.ErrCycle)
	assert.ErrorIs(t, g.SetParent(a, a), scene.ErrCycle)
	assert.ErrorIs(t, g.SetParent(a, 99), scene.ErrStale)
}

func TestDestroyRemovesSubtree(t *testing.T) {
	g := scene.NewGraph()
	main := g.AddScene("Main")
	a, _ := g.CreateObject(main, 0, "A")
	b, _ := g.CreateObject(main, a, "B")
	comp, _ := g.AddComponent(b, "Light", nil)

	require.NoError(t, g.Destroy(a))
	for _, id := range []scene.ObjectID{a, b, comp} {
		assert.False(t, scene.Alive(g, id), "%s", id)
	}
	assert.Empty(t, g.Roots(main))
	assert.ErrorIs(t, g.Destroy(a), scene.ErrStale)
}

func TestUnloadScene(t *testing.T) {
	g := scene.NewGraph()
	main := g.AddScene("Main")
	other := g.AddScene("Other")
	a, _ := g.CreateObject(main, 0, "A")
	got := recorder(g)

	g.UnloadScene(main)
	assert.False(t, scene.Alive(g, a))
	assert.Equal(t, []scene.SceneID{other}, g.Scenes())
	assert.Equal(t, []scene.Change{{Category: scene.SceneChanged}}, *got)

	_, err := g.CreateObject(main, 0, "late")
	assert.ErrorIs(t, err, scene.ErrStale)
}

func TestSetChildIndex(t *testing.T) {
	g := scene.NewGraph()
	main := g.AddScene("Main")
	p, _ := g.CreateObject(main, 0, "P")
	x, _ := g.CreateObject(main, p, "X")
	y, _ := g.CreateObject(main, p, "Y")
	z, _ := g.CreateObject(main, p, "Z")

	require.NoError(t, g.SetChildIndex(z, 0))
	assert.Equal(t, []scene.ObjectID{z, x, y}, g.Children(p))
	require.NoError(t, g.SetChildIndex(z, 10))
	assert.Equal(t, []scene.ObjectID{x, y, z}, g.Children(p))
}

func TestComponentPathUsesOwner(t *testing.T) {
	g := scene.NewGraph()
	main := g.AddScene("Main")
	a, _ := g.CreateObject(main, 0, "A")
	comp, _ := g.AddComponent(a, scene.TypeRenderer, map[string]any{scene.PropEnabled: true})

	assert.Equal(t, "Main/A", g.Path(comp))
	assert.Equal(t, scene.TypeRenderer, g.ComponentType(comp))
	assert.Equal(t, a, g.Owner(comp))
	assert.Equal(t, "#999", g.Path(999))

	require.NoError(t, g.RemoveComponent(comp))
	assert.Empty(t, g.Components(a))
}
