package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Kocoro-lab/leadflow/internal/state"
)

// Tool is one capability the executor may call.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any
	// Invoke never returns an error; failures are failure-tagged Results.
	Invoke(ctx context.Context, args json.RawMessage) state.Result
}

// Registry maps capability names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Invoke dispatches to the named tool. An unknown name is a failure result.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) state.Result {
	t, ok := r.Get(name)
	if !ok {
		return state.Failuref("Unknown tool: %s", name)
	}
	return t.Invoke(ctx, args)
}

// Call records one tool call made while executing a step.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	Result    state.Result
}
