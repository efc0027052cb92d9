package pipeline

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// refPattern matches braced references like ${NAME}. Only the braced form is
// resolved by the engine; bare $NAME is passed through untouched so shell
// steps keep their own expansion ($PATH, $(...) and friends).
var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandRefs replaces every ${NAME} in s using lookup. Unknown references are
// left verbatim; reference validation runs before the first step launches, so
// an unknown name surviving to this point was deliberately allowed.
func expandRefs(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := lookup(name); ok {
			return v
		}
		return ref
	})
}

// scanRefs returns the distinct reference names in s.
func scanRefs(s string) []string {
	if !strings.Contains(s, "${") {
		return nil
	}
	seen := map[string]bool{}
	var names []string
	for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// CheckReferences verifies that every ${NAME} reference in the graph would
// resolve in a run with the given extra environment, without executing
// anything. The engine-injected metadata variables (RUN_ID, BRANCH, ...)
// count as resolvable. This is the dry validation behind `piperunner
// validate`; Controller.Run performs the same check with the real run
// context before the first step launches.
func CheckReferences(g *Graph, env map[string]string) error {
	merged := make(map[string]string, len(g.Env)+len(env))
	for k, v := range g.Env {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	return checkReferences(g, NewExecContext(Meta{}, merged, nil))
}

// checkReferences walks every command, parameter and environment value in the
// graph and verifies that each ${NAME} reference will resolve when its step
// runs: from the global layer, the enclosing stage's overlay (stage env and
// secret bindings), or the host environment. A run with an unresolvable
// reference fails here, before any step has started.
func checkReferences(g *Graph, ec *ExecContext) error {
	missing := map[string]bool{}

	globalKnown := func(name string) bool {
		if _, ok := ec.Lookup(name); ok {
			return true
		}
		_, ok := os.LookupEnv(name)
		return ok
	}

	check := func(s, where string, known func(string) bool) {
		for _, name := range scanRefs(s) {
			if !known(name) {
				missing[fmt.Sprintf("${%s} in %s", name, where)] = true
			}
		}
	}
	checkStep := func(step Step, where string, known func(string) bool) {
		check(step.Command, where, known)
		for k, v := range step.With {
			check(v, where+" with."+k, known)
		}
		for k, v := range step.Env {
			check(v, where+" env."+k, known)
		}
	}
	checkHooks := func(post *PostActions, where string, known func(string) bool) {
		if post == nil {
			return
		}
		for _, hooks := range [][]Step{post.Always, post.Success, post.Failure} {
			for _, step := range hooks {
				checkStep(step, where+" post "+step.Name, known)
			}
		}
	}

	for _, st := range g.Stages() {
		stageVars := map[string]bool{}
		for k := range st.Env {
			stageVars[k] = true
		}
		for _, ref := range st.Secrets {
			stageVars[ref.Env] = true
		}
		stageKnown := func(name string) bool {
			return stageVars[name] || globalKnown(name)
		}

		// Stage env values expand against the global layer only; stage
		// variables cannot reference each other.
		for k, v := range st.Env {
			check(v, fmt.Sprintf("stage %s env.%s", st.Name, k), globalKnown)
		}
		for _, step := range st.Steps {
			checkStep(step, fmt.Sprintf("stage %s step %s", st.Name, step.Name), stageKnown)
		}
		checkHooks(st.Post, "stage "+st.Name, stageKnown)
	}
	checkHooks(g.Post, "pipeline", globalKnown)

	if len(missing) == 0 {
		return nil
	}
	refs := make([]string, 0, len(missing))
	for ref := range missing {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return fmt.Errorf("unresolved references: %s", strings.Join(refs, "; "))
}
