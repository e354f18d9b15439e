package tools

import (
	"sort"
	"strings"
	"sync"
)

// GroupPrefix marks an allowed-tools entry that names a tool group.
const GroupPrefix = "group:"

// Registry is the process-wide tool table. It is read-mostly: sessions take
// read locks for lookups and receive immutable views.
type Registry struct {
	tools       map[string]Tool
	groups      map[string][]string
	mu          sync.RWMutex
	rateLimiter *ToolRateLimiter // nil = no rate limiting
	scrubbing   bool
}

func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		groups:    make(map[string][]string),
		scrubbing: true,
	}
}

// SetRateLimiter enables per-session tool rate limiting.
func (r *Registry) SetRateLimiter(rl *ToolRateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = rl
}

// SetScrubbing enables or disables credential scrubbing on tool output.
func (r *Registry) SetScrubbing(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrubbing = enabled
}

// Register adds a tool. Registering an existing name replaces the prior tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// RegisterGroup defines (or replaces) a named group usable as "group:<name>".
func (r *Registry) RegisterGroup(name string, members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[name] = append([]string(nil), members...)
}

// UnregisterGroup removes a group.
func (r *Registry) UnregisterGroup(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, name)
}

// Resolve returns the registered tools among names, in request order,
// de-duplicated. Unknown names and unknown groups are skipped.
func (r *Registry) Resolve(names []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(names))
	out := make([]Tool, 0, len(names))
	add := func(name string) {
		if seen[name] {
			return
		}
		if t, ok := r.tools[name]; ok {
			seen[name] = true
			out = append(out, t)
		}
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if group, ok := strings.CutPrefix(name, GroupPrefix); ok {
			for _, member := range r.groups[group] {
				add(member)
			}
			continue
		}
		add(name)
	}
	return out
}

// All returns every registered tool sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Name()
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// View returns a read-only session view of the tools among names.
func (r *Registry) View(names []string) *View {
	resolved := r.Resolve(names)
	r.mu.RLock()
	rl, scrub := r.rateLimiter, r.scrubbing
	r.mu.RUnlock()
	return newView(resolved, rl, scrub)
}
