package tool

import (
	"sort"
	"sync"

	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/provider"
	"github.com/agentd-dev/agentd/internal/store"
)

// Registry maps tool name to implementation. The engine treats the set
// as opaque; built-ins and future plugins register the same way.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same ID.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.ID()] = t
}

// Get retrieves a tool by ID.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by ID.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].ID() < tools[j].ID() })
	return tools
}

// IDs returns all tool IDs sorted.
func (r *Registry) IDs() []string {
	tools := r.List()
	ids := make([]string, len(tools))
	for i, t := range tools {
		ids[i] = t.ID()
	}
	return ids
}

// Infos returns provider-neutral descriptors for the model call.
func (r *Registry) Infos() []provider.ToolInfo {
	tools := r.List()
	infos := make([]provider.ToolInfo, len(tools))
	for i, t := range tools {
		infos[i] = provider.ToolInfo{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return infos
}

// Deps are the shared dependencies of the built-in tools.
type Deps struct {
	WorkDir string
	Store   *store.Store
	Bus     *event.Bus
}

// Default creates a registry with all built-in tools.
func Default(deps Deps) *Registry {
	r := NewRegistry()

	r.Register(NewReadTool())
	r.Register(NewWriteTool(deps.Bus))
	r.Register(NewEditTool(deps.Bus))
	r.Register(NewBashTool(deps.WorkDir))
	r.Register(NewGlobTool())
	r.Register(NewGrepTool())
	r.Register(NewListTool())
	r.Register(NewWebFetchTool())
	r.Register(NewTodoWriteTool(deps.Store, deps.Bus))
	r.Register(NewTodoReadTool(deps.Store))
	r.Register(NewBatchTool(r))

	return r
}
