// Package registry holds the task-name → Strategy table and rebuilds it
// on every (re)start (spec §3 "strategies", §4.7 update_strategies).
package registry

import (
	"sync"

	"github.com/sentinel-labs/taskconsumer/internal/task"
)

// Strategy routes a decoded, registered task to execution. In this
// core, a Strategy's terminal action is always a call to on_task — see
// internal/consumer for where that call happens; the registry only
// owns the name → Strategy lookup and its rebuild.
type Strategy func(t *task.Task)

// TaskDef is an entry in the task catalog a Strategy is built from —
// the Go analogue of Celery's registered Task class.
type TaskDef struct {
	Name string
}

// Registry is the strategies table (spec §3). Safe for concurrent
// reads; rebuilt wholesale (not mutated incrementally) on each restart.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Lookup returns the Strategy registered for name, or nil if unknown.
func (r *Registry) Lookup(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Rebuild replaces the strategies table wholesale from defs, building
// each entry's Strategy with buildStrategy — the Go analogue of
// task.start_strategy(app, consumer) (spec §4.7). Strategies may close
// over the current connection, so this must run on every boot/restart.
func (r *Registry) Rebuild(defs []TaskDef, buildStrategy func(TaskDef) Strategy) {
	next := make(map[string]Strategy, len(defs))
	for _, d := range defs {
		next[d.Name] = buildStrategy(d)
	}
	r.mu.Lock()
	r.strategies = next
	r.mu.Unlock()
}

// Names returns the currently registered task names, for introspection
// and tests.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		out = append(out, n)
	}
	return out
}
