package capability

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/protean-ai/protean/pkg/errmodel"
)

// Registry is a file-backed set of capability descriptors. Each descriptor
// lives in its own <name>.json under the registry directory, and the registry
// keeps an in-memory mirror guarded by a mutex. Corrupt files are skipped at
// load time with a warning so one bad entry never takes down the namespace.
type Registry struct {
	dir string

	mu    sync.RWMutex
	items map[string]*Descriptor
}

// OpenRegistry creates the directory if needed and loads every descriptor in it.
func OpenRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errmodel.System("registry_dir", "create registry directory",
			map[string]any{"dir": dir}, err)
	}
	r := &Registry{dir: dir, items: make(map[string]*Descriptor)}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the directory backing the registry.
func (r *Registry) Dir() string { return r.dir }

// Reload replaces the in-memory mirror with the current on-disk state.
// Other processes may have written the directory since the last load.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return errmodel.System("registry_read", "read registry directory",
			map[string]any{"dir": r.dir}, err)
	}
	items := make(map[string]*Descriptor, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		d, err := readDescriptor(path)
		if err != nil {
			slog.Warn("skipping unreadable capability file",
				"path", path, "error", err)
			continue
		}
		items[d.Name] = d
	}
	r.mu.Lock()
	r.items = items
	r.mu.Unlock()
	return nil
}

func readDescriptor(path string) (*Descriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	want := strings.TrimSuffix(filepath.Base(path), ".json")
	if d.Name != want {
		return nil, fmt.Errorf("descriptor name %q does not match file %q", d.Name, want)
	}
	return &d, nil
}

// Add persists a new descriptor. Adding a name that already exists is a
// duplicate error; callers that want replacement must Remove first.
func (r *Registry) Add(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[d.Name]; ok {
		return errmodel.Duplicate("capability already registered",
			map[string]any{"name": d.Name})
	}
	cp := d.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if err := r.persist(cp); err != nil {
		return err
	}
	r.items[cp.Name] = cp
	return nil
}

// Get returns a copy of the named descriptor.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[name]
	if !ok {
		return nil, errmodel.NotFound("no such capability",
			map[string]any{"name": name, "available": r.namesLocked()})
	}
	return d.Clone(), nil
}

// Remove deletes the descriptor and its backing file.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; !ok {
		return errmodel.NotFound("no such capability",
			map[string]any{"name": name})
	}
	if err := os.Remove(r.path(name)); err != nil && !os.IsNotExist(err) {
		return errmodel.System("registry_remove", "delete descriptor file",
			map[string]any{"name": name}, err)
	}
	delete(r.items, name)
	return nil
}

// List returns copies of every descriptor, sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted capability names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Summaries returns the name-to-description view used when rendering the
// available capability list into a prompt.
func (r *Registry) Summaries() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.items))
	for name, d := range r.items {
		out[name] = d.Description
	}
	return out
}

// Len reports the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// IncrementUsage bumps the usage counter and persists the new value.
func (r *Registry) IncrementUsage(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[name]
	if !ok {
		return errmodel.NotFound("no such capability",
			map[string]any{"name": name})
	}
	d.UsageCount++
	return r.persist(d)
}

// Export returns a snapshot document of the whole namespace, suitable for
// backup or transfer to another registry directory.
func (r *Registry) Export() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]*Descriptor, len(r.items))
	for name, d := range r.items {
		snapshot[name] = d
	}
	return json.MarshalIndent(map[string]any{
		"tools":     snapshot,
		"count":     len(snapshot),
		"timestamp": time.Now().UTC(),
	}, "", "  ")
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}

// persist writes via a temp file then renames, so a crash mid-write never
// leaves a half-written descriptor for the next load to trip over.
func (r *Registry) persist(d *Descriptor) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return errmodel.System("registry_encode", "encode descriptor",
			map[string]any{"name": d.Name}, err)
	}
	tmp, err := os.CreateTemp(r.dir, "."+d.Name+".tmp-*")
	if err != nil {
		return writeErr(d.Name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return writeErr(d.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return writeErr(d.Name, err)
	}
	if err := os.Rename(tmp.Name(), r.path(d.Name)); err != nil {
		return writeErr(d.Name, err)
	}
	return nil
}

func writeErr(name string, err error) error {
	return errmodel.System("registry_write", "persist descriptor",
		map[string]any{"name": name}, err)
}
