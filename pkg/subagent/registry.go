package subagent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/protean-ai/protean/pkg/capability"
	"github.com/protean-ai/protean/pkg/errmodel"
)

const (
	configFile = "agent.json"
	toolsDir   = "tools"
)

// Registry stores agents one directory each under a common root. The
// directory holds the agent's config document plus a tools/ subdirectory
// that is the agent's private capability namespace. Disk is the source of
// truth; every read goes to the filesystem so delegation always observes
// the latest state, including writes from other registry instances.
type Registry struct {
	root string
	mu   sync.Mutex // serializes in-process mutations
}

// OpenRegistry creates the root directory if needed.
func OpenRegistry(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errmodel.System("agent_dir", "create agent root",
			map[string]any{"dir": root}, err)
	}
	return &Registry{root: root}, nil
}

// Root returns the directory backing the registry.
func (r *Registry) Root() string { return r.root }

// AgentDir returns the directory of the named agent.
func (r *Registry) AgentDir(name string) string {
	return filepath.Join(r.root, name)
}

// Create provisions a new agent: its config and its empty private namespace
// appear together or not at all. The agent is staged in a temp directory and
// moved into place with a single rename.
func (r *Registry) Create(d *Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exists(d.Name) {
		return errmodel.Duplicate("agent already registered",
			map[string]any{"name": d.Name})
	}
	cp := d.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	stage, err := os.MkdirTemp(r.root, ".stage-"+cp.Name+"-*")
	if err != nil {
		return errmodel.System("agent_write", "stage agent directory",
			map[string]any{"name": cp.Name}, err)
	}
	defer os.RemoveAll(stage)
	if err := os.Mkdir(filepath.Join(stage, toolsDir), 0o755); err != nil {
		return errmodel.System("agent_write", "stage private namespace",
			map[string]any{"name": cp.Name}, err)
	}
	b, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errmodel.System("agent_encode", "encode agent config",
			map[string]any{"name": cp.Name}, err)
	}
	if err := os.WriteFile(filepath.Join(stage, configFile), b, 0o644); err != nil {
		return errmodel.System("agent_write", "write agent config",
			map[string]any{"name": cp.Name}, err)
	}
	if err := os.Rename(stage, r.AgentDir(cp.Name)); err != nil {
		return errmodel.System("agent_write", "install agent directory",
			map[string]any{"name": cp.Name}, err)
	}
	return nil
}

// Get reads the named agent's config from disk.
func (r *Registry) Get(name string) (*Definition, error) {
	b, err := os.ReadFile(filepath.Join(r.AgentDir(name), configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errmodel.NotFound("no such agent",
				map[string]any{"name": name, "available": r.Names()})
		}
		return nil, errmodel.System("agent_read", "read agent config",
			map[string]any{"name": name}, err)
	}
	var d Definition
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errmodel.System("agent_read", "decode agent config",
			map[string]any{"name": name}, err)
	}
	return &d, nil
}

// Exists reports whether the named agent is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exists(name)
}

func (r *Registry) exists(name string) bool {
	_, err := os.Stat(filepath.Join(r.AgentDir(name), configFile))
	return err == nil
}

// Remove deletes the agent and its entire private namespace.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exists(name) {
		return errmodel.NotFound("no such agent",
			map[string]any{"name": name, "available": r.names()})
	}
	if err := os.RemoveAll(r.AgentDir(name)); err != nil {
		return errmodel.System("agent_remove", "delete agent directory",
			map[string]any{"name": name}, err)
	}
	return nil
}

// List returns every registered agent sorted by name. Unreadable entries
// are skipped with a warning, like corrupt capability files.
func (r *Registry) List() []*Definition {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		slog.Warn("reading agent root failed", "dir", r.root, "error", err)
		return nil
	}
	var out []*Definition
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		d, err := r.Get(e.Name())
		if err != nil {
			slog.Warn("skipping unreadable agent", "name", e.Name(), "error", err)
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted names of registered agents.
func (r *Registry) Names() []string { return r.names() }

func (r *Registry) names() []string {
	var out []string
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() && e.Name()[0] != '.' && r.exists(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

// ByTag returns agents carrying the given discovery tag.
func (r *Registry) ByTag(tag string) []*Definition {
	var out []*Definition
	for _, d := range r.List() {
		if d.HasTag(tag) {
			out = append(out, d)
		}
	}
	return out
}

// SetEnabled flips the delegation gate and returns the updated definition.
func (r *Registry) SetEnabled(name string, enabled bool) (*Definition, error) {
	return r.update(name, func(d *Definition) error {
		d.Enabled = enabled
		return nil
	})
}

// IncrementUsage bumps the delegation counter and persists it.
func (r *Registry) IncrementUsage(name string) (*Definition, error) {
	return r.update(name, func(d *Definition) error {
		d.UsageCount++
		return nil
	})
}

// AddTool appends a capability name to the agent's allow-list.
func (r *Registry) AddTool(name, tool string) (*Definition, error) {
	return r.update(name, func(d *Definition) error {
		for _, t := range d.Tools {
			if t == tool {
				return errmodel.Duplicate("capability already on allow-list",
					map[string]any{"agent": name, "capability": tool})
			}
		}
		d.Tools = append(d.Tools, tool)
		return nil
	})
}

// RemoveTool drops a capability name from the agent's allow-list.
func (r *Registry) RemoveTool(name, tool string) (*Definition, error) {
	return r.update(name, func(d *Definition) error {
		for i, t := range d.Tools {
			if t == tool {
				d.Tools = append(d.Tools[:i], d.Tools[i+1:]...)
				return nil
			}
		}
		return errmodel.NotFound("capability not on allow-list",
			map[string]any{"agent": name, "capability": tool})
	})
}

func (r *Registry) update(name string, mutate func(*Definition) error) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := mutate(d); err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errmodel.System("agent_encode", "encode agent config",
			map[string]any{"name": name}, err)
	}
	dir := r.AgentDir(name)
	tmp, err := os.CreateTemp(dir, "."+configFile+".tmp-*")
	if err != nil {
		return nil, errmodel.System("agent_write", "persist agent config",
			map[string]any{"name": name}, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return nil, errmodel.System("agent_write", "persist agent config",
			map[string]any{"name": name}, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errmodel.System("agent_write", "persist agent config",
			map[string]any{"name": name}, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, configFile)); err != nil {
		return nil, errmodel.System("agent_write", "persist agent config",
			map[string]any{"name": name}, err)
	}
	return d, nil
}

// ToolsRegistry opens a fresh view of the agent's private capability
// namespace. Callers get current disk state, not a cached index.
func (r *Registry) ToolsRegistry(name string) (*capability.Registry, error) {
	if !r.Exists(name) {
		return nil, errmodel.NotFound("no such agent",
			map[string]any{"name": name, "available": r.Names()})
	}
	return capability.OpenRegistry(filepath.Join(r.AgentDir(name), toolsDir))
}

// Export returns a snapshot document of every agent definition.
func (r *Registry) Export() ([]byte, error) {
	agents := map[string]*Definition{}
	for _, d := range r.List() {
		agents[d.Name] = d
	}
	return json.MarshalIndent(map[string]any{
		"agents":    agents,
		"count":     len(agents),
		"timestamp": time.Now().UTC(),
	}, "", "  ")
}
