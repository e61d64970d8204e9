// Package capability implements the capability data model, the file-backed
// registry, and the synthesizer that turns a persisted descriptor into an
// invocable unit with a schema-validated parameter surface and a bounded
// script executor.
package capability

import (
	"regexp"
	"time"

	"github.com/protean-ai/protean/pkg/errmodel"
)

// Kind enumerates the parameter kinds a descriptor may declare.
// Unknown kinds degrade to KindString when the schema is built.
const (
	KindString  = "string"
	KindInteger = "integer"
	KindFloat   = "float"
	KindBoolean = "boolean"
	KindList    = "list"
	KindMap     = "map"
)

// namePattern is the identifier-safe pattern shared by capability and agent
// names: letters, digits, and underscores.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidName reports whether s is an acceptable capability or agent name.
func ValidName(s string) bool {
	return s != "" && namePattern.MatchString(s)
}

// ParamSpec is one entry of a descriptor's ordered parameter list.
// A nil Default marks the parameter as mandatory.
type ParamSpec struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Required reports whether the parameter has no default and must be supplied
// by the caller.
func (p ParamSpec) Required() bool { return p.Default == nil }

// Descriptor is the persisted specification of a capability. It is immutable
// once stored except for UsageCount, which the registry mutates and
// re-persists on every recorded invocation.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters"`
	Behavior    string      `json:"behavior"`
	UsageGuide  string      `json:"usage_guide,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UsageCount  int64       `json:"usage_count"`
}

// Validate checks the statically verifiable parts of a descriptor: the
// identifier-safe name and well-formed parameter specs.
func (d *Descriptor) Validate() error {
	if !ValidName(d.Name) {
		return errmodel.Validation("bad_name",
			"capability name must contain only letters, digits, and underscores",
			map[string]any{"name": d.Name})
	}
	seen := make(map[string]bool, len(d.Parameters))
	for i, p := range d.Parameters {
		if !ValidName(p.Name) {
			return errmodel.Validation("bad_parameters",
				"parameter name must contain only letters, digits, and underscores",
				map[string]any{"index": i, "parameter": p.Name})
		}
		if seen[p.Name] {
			return errmodel.Validation("bad_parameters",
				"duplicate parameter name",
				map[string]any{"index": i, "parameter": p.Name})
		}
		seen[p.Name] = true
	}
	if d.Behavior == "" {
		return errmodel.Validation("bad_parameters",
			"behavior script is empty", map[string]any{"name": d.Name})
	}
	return nil
}

// Clone returns a deep copy so registry callers cannot alias stored state.
func (d *Descriptor) Clone() *Descriptor {
	cp := *d
	cp.Parameters = make([]ParamSpec, len(d.Parameters))
	copy(cp.Parameters, d.Parameters)
	return &cp
}
