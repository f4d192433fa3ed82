package scenefile_test

import (
	"testing"
	"time"

	"github.com/delaneyj/changestream/preview"
	"github.com/delaneyj/changestream/scene"
	"github.com/delaneyj/changestream/scenefile"
	"github.com/delaneyj/changestream/watcher"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	f, err := scenefile.Load("testdata/avatar.yaml")
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, f.Engine.PollInterval)
	assert.Equal(t, 1, f.Engine.Verbosity)
	require.Len(t, f.Scenes, 1)
	assert.Len(t, f.Scenes[0].Objects, 2)
	require.Len(t, f.Filters, 2)
	assert.False(t, *f.Filters[1].Enabled)
	require.Len(t, f.Steps, 5)
	assert.Equal(t, "setProperty Main/Avatar/Body[Renderer].enabled = false", f.Steps[0].String())
	assert.Equal(t, "reparent Main/Shoes -> Main/Avatar", f.Steps[2].String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := scenefile.Load("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := scenefile.Parse([]byte("scenes: []\nbogus: 1\n"))
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	f, err := scenefile.Load("testdata/avatar.yaml")
	require.NoError(t, err)
	g, err := f.Build()
	require.NoError(t, err)

	body, ok := g.Find("Main/Avatar/Body")
	require.True(t, ok)
	assert.Equal(t, "Main/Avatar/Body", g.Path(body))
	require.Len(t, g.Components(body), 1)
	assert.True(t, scene.BoolProperty(g, g.Components(body)[0], scene.PropEnabled, false))

	gizmo, ok := g.Find("Main/Avatar/Gizmo")
	require.True(t, ok)
	assert.NotZero(t, g.HideFlags(gizmo))
}

func TestFilterRootMustExist(t *testing.T) {
	f, err := scenefile.Parse([]byte(`
scenes:
  - name: Main
    objects: [{name: A}]
filters:
  - {name: broken, root: Main/B}
`))
	require.NoError(t, err)
	_, err = scenefile.Open(f, nil)
	assert.ErrorIs(t, err, scenefile.ErrUnknownPath)
}

func TestStepErrors(t *testing.T) {
	f, err := scenefile.Load("testdata/avatar.yaml")
	require.NoError(t, err)
	g, err := f.Build()
	require.NoError(t, err)

	cases := []struct {
		name string
		step scenefile.Step
		want error
	}{
		{"unknown op", scenefile.Step{Op: "explode", Path: "Main/Avatar"}, scenefile.ErrUnknownOp},
		{"unknown path", scenefile.Step{Op: scenefile.OpDestroy, Path: "Main/Nope"}, scenefile.ErrUnknownPath},
		{"unknown target", scenefile.Step{Op: scenefile.OpReparent, Path: "Main/Avatar", To: "Other/X"}, scenefile.ErrUnknownPath},
		{"missing component", scenefile.Step{Op: scenefile.OpSetProperty, Path: "Main/Avatar", Component: "Light", Key: "k", Value: 1}, scenefile.ErrUnknownPath},
		{"unknown filter", scenefile.Step{Op: scenefile.OpToggleFilter, Filter: "nope"}, scenefile.ErrUnknownFilter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.step.Apply(g, nil), tc.want)
		})
	}

	assert.Error(t, scenefile.Step{Op: scenefile.OpSetActive, Path: "Main/Avatar", Value: "yes"}.Apply(g, nil))
}

func TestStepOutOfRange(t *testing.T) {
	f, err := scenefile.Load("testdata/avatar.yaml")
	require.NoError(t, err)
	s, err := scenefile.Open(f, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Step(len(f.Steps)), scenefile.ErrUnknownStep)
	assert.ErrorIs(t, s.Step(-1), scenefile.ErrUnknownStep)
}

func stageRenderers(s *scenefile.Session, stages []preview.Stage) map[string][][]string {
	out := map[string][][]string{}
	for _, st := range stages {
		for _, g := range st.Groups {
			var names []string
			for _, r := range g.Renderers {
				names = append(names, s.Name(r))
			}
			out[st.Filter.Name()] = append(out[st.Filter.Name()], names)
		}
	}
	return out
}

func TestReplay(t *testing.T) {
	f, err := scenefile.Load("testdata/avatar.yaml")
	require.NoError(t, err)
	s, err := scenefile.Open(f, []watcher.Option{watcher.WithLogger(testr.New(t))})
	require.NoError(t, err)
	defer s.Close()

	body, hat, shoes := "Main/Avatar/Body", "Main/Avatar/Hat", "Main/Avatar/Shoes"

	stages, changed := s.Resolve()
	assert.True(t, changed)
	assert.Equal(t, map[string][][]string{"outfit": {{body, hat}}}, stageRenderers(s, stages))

	stages, changed = s.Resolve()
	assert.False(t, changed, "nothing happened in between")
	assert.Equal(t, map[string][][]string{"outfit": {{body, hat}}}, stageRenderers(s, stages))

	// Body renderer disabled: the non-strict outfit drops it.
	require.NoError(t, s.Step(0))
	stages, changed = s.Resolve()
	assert.True(t, changed)
	assert.Equal(t, map[string][][]string{"outfit": {{hat}}}, stageRenderers(s, stages))

	// The strict outline pulls the body back into both stages.
	require.NoError(t, s.Step(1))
	stages, _ = s.Resolve()
	assert.Equal(t, map[string][][]string{
		"outfit":  {{body, hat}},
		"outline": {{body, hat}},
	}, stageRenderers(s, stages))

	require.NoError(t, s.Step(2))
	stages, _ = s.Resolve()
	assert.Equal(t, map[string][][]string{
		"outfit":  {{body, hat, shoes}},
		"outline": {{body, hat, shoes}},
	}, stageRenderers(s, stages))

	require.NoError(t, s.Step(3))
	stages, changed = s.Resolve()
	assert.True(t, changed)
	assert.Equal(t, map[string][][]string{
		"outfit":  {{body, hat, shoes}},
		"outline": {{body, hat, shoes}},
	}, stageRenderers(s, stages))

	require.NoError(t, s.Step(4))
	stages, _ = s.Resolve()
	assert.Equal(t, map[string][][]string{
		"outfit":  {{body, shoes}},
		"outline": {{body, shoes}},
	}, stageRenderers(s, stages))
}
