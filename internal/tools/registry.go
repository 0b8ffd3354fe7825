package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tallyfinance/tally/internal/ai"
)

// Tool is one executable capability advertised to Phase A.
// Implementations must be safe for concurrent Execute calls; per-message
// values arrive on the context, never on the instance.
type Tool interface {
	Name() string
	Description() string
	Parameters() ai.ToolParams

	// RequiresContext reports whether Execute needs a resolved account.
	// The registry rejects calls for these tools when the sender is
	// unlinked, so handlers can assume ToolUserFromCtx is non-nil.
	RequiresContext() bool

	Execute(ctx context.Context, args map[string]any) *Result
}

// Registry maps tool names to handlers. The set is open: built-ins
// register at startup and remote MCP tools join once discovered.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		slog.Debug("replacing registered tool", "tool", t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tool names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs renders the registered tools as wire schemas, sorted by name
// so Phase A sees a stable order.
func (r *Registry) Specs() []ai.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ai.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, ai.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// RequiresContext reports whether the named tool needs a resolved
// account. Unknown tools do not.
func (r *Registry) RequiresContext(name string) bool {
	t, ok := r.Get(name)
	return ok && t.RequiresContext()
}

// Execute dispatches a proposed call to its handler. Unknown names and
// context-requiring calls from unlinked senders come back as error
// results rather than panics; the model decides names, not the user.
func (r *Registry) Execute(ctx context.Context, call *ai.ToolCall) *Result {
	t, ok := r.Get(call.Name)
	if !ok {
		slog.Warn("tool call for unregistered tool", "tool", call.Name)
		return ErrorResult(call.Name, CodeUnknownTool, "Uy, eso todavía no lo sé hacer.")
	}
	if t.RequiresContext() && ToolUserFromCtx(ctx) == nil {
		return ErrorResult(call.Name, CodeMissingContext, "Primero tengo que saber quién eres. Vincula tu cuenta con el código de la app.")
	}
	res := t.Execute(ctx, call.Args)
	if res == nil {
		return ErrorResult(call.Name, CodeStorage, "Algo se me cayó por dentro, intenta de nuevo.").
			WithError(fmt.Errorf("tool %s returned nil result", call.Name))
	}
	if res.Action == "" {
		res.Action = call.Name
	}
	return res
}
