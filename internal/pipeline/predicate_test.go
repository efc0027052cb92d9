package pipeline

import "testing"

func TestWhenPredicates(t *testing.T) {
	main := Meta{Branch: "main"}
	feature := Meta{Branch: "feature-x"}

	cases := []struct {
		name string
		cond When
		meta Meta
		want bool
	}{
		{"branch is, match", BranchIs("main"), main, true},
		{"branch is, no match", BranchIs("main"), feature, false},
		{"branch in, match", BranchIn("main", "release"), main, true},
		{"branch in, no match", BranchIn("main", "release"), feature, false},
		{"not", Not(BranchIs("main")), feature, true},
		{"all true", All(BranchIs("main"), Not(BranchIs("dev"))), main, true},
		{"all short-circuits", All(BranchIs("main"), BranchIs("other")), main, false},
		{"any", Any(BranchIs("release"), BranchIs("main")), main, true},
		{"any none", Any(BranchIs("release"), BranchIs("dev")), main, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Evaluate(tc.meta); got != tc.want {
				t.Fatalf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestWhenString(t *testing.T) {
	cases := []struct {
		cond When
		want string
	}{
		{BranchIs("main"), `branch == "main"`},
		{BranchIn("main", "release"), `branch in ["main", "release"]`},
		{Not(BranchIs("main")), `not (branch == "main")`},
		{All(BranchIs("a"), BranchIs("b")), `(branch == "a" and branch == "b")`},
		{Any(BranchIs("a"), BranchIs("b")), `(branch == "a" or branch == "b")`},
	}
	for _, tc := range cases {
		if got := tc.cond.String(); got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
	}
}
