package definition

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// ParseWhen compiles a when clause into a stage predicate. Supported forms,
// each optionally prefixed with `not`:
//
//	branch == "main"
//	branch != "main"
//	branch in ["main", "develop"]
//
// Quotes around branch names are optional. An empty clause means the stage
// always runs.
func ParseWhen(expr string) (pipeline.When, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, nil
	}

	if rest, ok := strings.CutPrefix(s, "not "); ok {
		inner, err := ParseWhen(rest)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return nil, fmt.Errorf("when clause %q: nothing to negate", expr)
		}
		return pipeline.Not(inner), nil
	}

	rest, ok := strings.CutPrefix(s, "branch")
	if !ok {
		return nil, fmt.Errorf("unsupported when clause %q (only branch conditions are supported)", expr)
	}
	rest = strings.TrimSpace(rest)

	switch {
	case strings.HasPrefix(rest, "=="):
		name, err := branchName(strings.TrimPrefix(rest, "=="))
		if err != nil {
			return nil, fmt.Errorf("when clause %q: %w", expr, err)
		}
		return pipeline.BranchIs(name), nil
	case strings.HasPrefix(rest, "!="):
		name, err := branchName(strings.TrimPrefix(rest, "!="))
		if err != nil {
			return nil, fmt.Errorf("when clause %q: %w", expr, err)
		}
		return pipeline.Not(pipeline.BranchIs(name)), nil
	case strings.HasPrefix(rest, "in"):
		names, err := branchList(strings.TrimPrefix(rest, "in"))
		if err != nil {
			return nil, fmt.Errorf("when clause %q: %w", expr, err)
		}
		return pipeline.BranchIn(names...), nil
	default:
		return nil, fmt.Errorf("unsupported when clause %q (expected ==, != or in after branch)", expr)
	}
}

func branchName(s string) (string, error) {
	name, err := unquote(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("missing branch name")
	}
	if strings.ContainsAny(name, " \t") {
		return "", fmt.Errorf("branch name %q contains whitespace", name)
	}
	return name, nil
}

func branchList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("expected a bracketed list, got %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return nil, fmt.Errorf("empty branch list")
	}
	parts := strings.Split(inner, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		name, err := branchName(p)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// unquote strips one pair of matching single or double quotes.
func unquote(s string) (string, error) {
	if len(s) < 2 {
		return s, nil
	}
	first, last := s[0], s[len(s)-1]
	if first != '"' && first != '\'' {
		return s, nil
	}
	if first != last {
		return "", fmt.Errorf("unbalanced quotes in %q", s)
	}
	return s[1 : len(s)-1], nil
}
