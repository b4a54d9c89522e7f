package worker

import (
	"net/http"
	"sort"
	"sync"

	"github.com/isdmx/testbot/executor"
	"github.com/isdmx/testbot/master"
)

// Factory creates the executor for one job.
type Factory func(ref master.JobRef) executor.Executor

// Registry maps job kinds to executor factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[master.Kind]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: map[master.Kind]Factory{}}
}

// Register adds or replaces the factory for kind
func (r *Registry) Register(kind master.Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Lookup returns the factory for kind
func (r *Registry) Lookup(kind master.Kind) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []master.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]master.Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Components are the shared collaborators of the built-in executors.
type Components struct {
	Deps          executor.Deps
	Cache         executor.EnvironmentCache
	Engine        executor.ContainerEngine
	Script        executor.ScriptRunner
	PlagiarismAPI string
	HTTPClient    *http.Client
}

// DefaultRegistry registers every built-in job kind.
func DefaultRegistry(c Components) *Registry {
	r := NewRegistry()
	r.Register(master.KindDocker, func(ref master.JobRef) executor.Executor {
		return executor.NewContainerExecutor(ref, c.Deps, c.Cache, c.Engine)
	})
	r.Register(master.KindScript, func(ref master.JobRef) executor.Executor {
		return executor.NewScriptExecutor(ref, c.Deps, c.Cache, c.Script)
	})
	r.Register(master.KindAntiPlagiarism, func(ref master.JobRef) executor.Executor {
		return executor.NewPlagiarismExecutor(ref, c.Deps, c.PlagiarismAPI, c.HTTPClient)
	})
	r.Register(master.KindFileExists, func(ref master.JobRef) executor.Executor {
		return executor.NewFileExistsExecutor(ref, c.Deps)
	})
	return r
}
