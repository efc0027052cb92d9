package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testMeta() Meta {
	return Meta{
		RunID:     "run-42",
		Number:    42,
		Pipeline:  "demo",
		Branch:    "main",
		Workspace: "/ws/run-42",
		StartedAt: time.Now(),
	}
}

func TestExecContext_MetaVarsShadowUserEnv(t *testing.T) {
	ec := NewExecContext(testMeta(), map[string]string{
		"BRANCH": "spoofed",
		"APP":    "web",
	}, nil)

	v, ok := ec.Lookup("BRANCH")
	require.True(t, ok)
	require.Equal(t, "main", v)

	v, ok = ec.Lookup("APP")
	require.True(t, ok)
	require.Equal(t, "web", v)

	v, ok = ec.Lookup("RUN_NUMBER")
	require.True(t, ok)
	require.Equal(t, "42", v)
}

func TestOverlay_ShadowsGlobalAndStaysLocal(t *testing.T) {
	ec := NewExecContext(testMeta(), map[string]string{"MODE": "global"}, nil)

	o1 := ec.NewOverlay()
	o1.Set("MODE", "stage-one")
	v, _ := o1.Lookup("MODE")
	require.Equal(t, "stage-one", v)

	// A fresh overlay sees the untouched global layer.
	o2 := ec.NewOverlay()
	v, _ = o2.Lookup("MODE")
	require.Equal(t, "global", v)

	_, ok := ec.Lookup("ONLY_LOCAL")
	require.False(t, ok)
}

func TestOverlay_EnvironLayering(t *testing.T) {
	t.Setenv("PR_HOST_VAR", "host")
	t.Setenv("PR_SHADOWED", "host")
	ec := NewExecContext(testMeta(), map[string]string{"PR_SHADOWED": "global"}, nil)
	o := ec.NewOverlay()
	o.Set("PR_LOCAL", "stage")

	env := o.Environ(map[string]string{"PR_STEP": "ref ${PR_LOCAL}"})
	require.True(t, envHas(env, "PR_HOST_VAR=host"))
	require.True(t, envHas(env, "PR_SHADOWED=global"))
	require.True(t, envHas(env, "PR_LOCAL=stage"))
	require.True(t, envHas(env, "PR_STEP=ref stage"))
	require.True(t, envHas(env, "RUN_ID=run-42"))
}

func TestOverlay_ExpandUsesLayeredLookup(t *testing.T) {
	ec := NewExecContext(testMeta(), map[string]string{"BASE": "registry.local"}, nil)
	o := ec.NewOverlay()
	o.Set("TAG", "v9")
	require.Equal(t, "registry.local/app:v9", o.Expand("${BASE}/app:${TAG}"))
}
