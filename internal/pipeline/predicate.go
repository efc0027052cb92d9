package pipeline

import "strings"

// When gates a stage on run metadata. Predicates are pure: they never touch
// the environment, the workspace or any step, so evaluating one has no side
// effects. A nil When means the stage always runs.
//
// String returns the source form of the condition for logs and reports,
// e.g. `branch == "main"`.
type When interface {
	Evaluate(Meta) bool
	String() string
}

type branchIs struct{ name string }

func (b branchIs) Evaluate(m Meta) bool { return m.Branch == b.name }
func (b branchIs) String() string       { return `branch == "` + b.name + `"` }

// BranchIs matches runs on exactly the named branch.
func BranchIs(name string) When { return branchIs{name: name} }

type branchIn struct{ names []string }

func (b branchIn) Evaluate(m Meta) bool {
	for _, n := range b.names {
		if m.Branch == n {
			return true
		}
	}
	return false
}

func (b branchIn) String() string {
	quoted := make([]string, len(b.names))
	for i, n := range b.names {
		quoted[i] = `"` + n + `"`
	}
	return "branch in [" + strings.Join(quoted, ", ") + "]"
}

// BranchIn matches runs on any of the named branches.
func BranchIn(names ...string) When { return branchIn{names: names} }

type not struct{ inner When }

func (n not) Evaluate(m Meta) bool { return !n.inner.Evaluate(m) }
func (n not) String() string       { return "not (" + n.inner.String() + ")" }

// Not inverts a condition.
func Not(w When) When { return not{inner: w} }

type all struct{ conds []When }

func (a all) Evaluate(m Meta) bool {
	for _, c := range a.conds {
		if !c.Evaluate(m) {
			return false
		}
	}
	return true
}

func (a all) String() string { return joinConds(a.conds, " and ") }

// All matches when every condition matches.
func All(conds ...When) When { return all{conds: conds} }

type anyOf struct{ conds []When }

func (a anyOf) Evaluate(m Meta) bool {
	for _, c := range a.conds {
		if c.Evaluate(m) {
			return true
		}
	}
	return false
}

func (a anyOf) String() string { return joinConds(a.conds, " or ") }

// Any matches when at least one condition matches.
func Any(conds ...When) When { return anyOf{conds: conds} }

func joinConds(conds []When, sep string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
