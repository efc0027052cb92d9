package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// Action executes one kind of step. Implementations stream combined output
// to inv.Output and return the exit code; a non-nil error means the step
// could not be launched at all.
type Action interface {
	Name() string
	Exec(ctx context.Context, inv pipeline.Invocation) (int, error)
}

// Registry dispatches invocations to named actions. It implements
// pipeline.Executor, so a registry is what a Controller runs against.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates a registry holding the given actions.
func NewRegistry(actions ...Action) *Registry {
	r := &Registry{actions: map[string]Action{}}
	for _, a := range actions {
		r.Register(a)
	}
	return r
}

// Default returns a registry with the built-in actions: sh, git-checkout,
// docker-run and http-check.
func Default() *Registry {
	return NewRegistry(
		NewShell(),
		NewGitCheckout(),
		NewDockerRun(),
		NewHTTPCheck(),
	)
}

// Register adds or replaces an action under its name.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name()] = a
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exec dispatches by inv.Action. An unknown action is a launch failure: the
// step never started, and the runner records it as such.
func (r *Registry) Exec(ctx context.Context, inv pipeline.Invocation) (int, error) {
	r.mu.RLock()
	a, ok := r.actions[inv.Action]
	r.mu.RUnlock()
	if !ok {
		return -1, fmt.Errorf("unknown action %q", inv.Action)
	}
	return a.Exec(ctx, inv)
}
