package definition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

func TestParseWhen(t *testing.T) {
	cases := []struct {
		expr     string
		branch   string
		want     bool
		wantsNil bool
	}{
		{expr: "", branch: "main", want: true, wantsNil: true},
		{expr: `branch == "main"`, branch: "main", want: true},
		{expr: `branch == "main"`, branch: "develop", want: false},
		{expr: `branch == main`, branch: "main", want: true},
		{expr: `branch == 'main'`, branch: "main", want: true},
		{expr: `branch != "main"`, branch: "develop", want: true},
		{expr: `branch != "main"`, branch: "main", want: false},
		{expr: `branch in ["main", "develop"]`, branch: "develop", want: true},
		{expr: `branch in [main, develop]`, branch: "feature/x", want: false},
		{expr: `not branch == "main"`, branch: "develop", want: true},
		{expr: `not branch in ["main", "release"]`, branch: "main", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			w, err := ParseWhen(tc.expr)
			require.NoError(t, err)
			if tc.wantsNil {
				require.Nil(t, w)
				return
			}
			require.NotNil(t, w)
			require.Equal(t, tc.want, w.Evaluate(pipeline.Meta{Branch: tc.branch}))
		})
	}
}

func TestParseWhenErrors(t *testing.T) {
	bad := []string{
		`tag == "v1"`,
		`branch`,
		`branch ~= "main"`,
		`branch == `,
		`branch == "ma in"`,
		`branch in main`,
		`branch in []`,
		`branch == "main`,
		`not `,
	}
	for _, expr := range bad {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseWhen(expr)
			require.Error(t, err)
		})
	}
}

func TestParseWhenStringRendersSource(t *testing.T) {
	w, err := ParseWhen(`branch == "main"`)
	require.NoError(t, err)
	require.Equal(t, `branch == "main"`, w.String())

	w, err = ParseWhen(`branch in [main, develop]`)
	require.NoError(t, err)
	require.Equal(t, `branch in ["main", "develop"]`, w.String())
}
