// Package subagent implements agent descriptors, the directory-per-agent
// registry with private capability namespaces, and the synthesizer that
// turns a stored descriptor into a runnable sub-agent for delegation.
package subagent

import (
	"time"

	"github.com/protean-ai/protean/pkg/capability"
	"github.com/protean-ai/protean/pkg/errmodel"
)

// Defaults applied when a creation request leaves them unset.
const (
	DefaultModel       = "openai"
	DefaultTemperature = 0.7
)

// Definition is the persisted specification of a sub-agent. Tools is the
// capability allow-list; empty means the agent may use everything in its
// private namespace. Capabilities are free-form discovery tags.
type Definition struct {
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Description  string    `json:"description"`
	SystemPrompt string    `json:"system_prompt"`
	Tools        []string  `json:"tools"`
	Model        string    `json:"model"`
	Temperature  float64   `json:"temperature"`
	Capabilities []string  `json:"capabilities"`
	CreatedAt    time.Time `json:"created_at"`
	UsageCount   int64     `json:"usage_count"`
	Enabled      bool      `json:"enabled"`
}

// Validate checks the statically verifiable parts of a definition.
func (d *Definition) Validate() error {
	if !capability.ValidName(d.Name) {
		return errmodel.Validation("bad_name",
			"agent name must contain only letters, digits, and underscores",
			map[string]any{"name": d.Name})
	}
	if d.Role == "" {
		return errmodel.Validation("bad_role", "agent role is required",
			map[string]any{"name": d.Name})
	}
	if d.SystemPrompt == "" {
		return errmodel.Validation("bad_system_prompt", "system prompt is required",
			map[string]any{"name": d.Name})
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		return errmodel.Validation("bad_temperature",
			"temperature must be between 0 and 2",
			map[string]any{"name": d.Name, "temperature": d.Temperature})
	}
	return nil
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	cp := *d
	cp.Tools = append([]string(nil), d.Tools...)
	cp.Capabilities = append([]string(nil), d.Capabilities...)
	return &cp
}

// HasTag reports whether the definition carries the given discovery tag.
func (d *Definition) HasTag(tag string) bool {
	for _, t := range d.Capabilities {
		if t == tag {
			return true
		}
	}
	return false
}

// Allowed reports whether the agent may invoke the named capability.
// An empty allow-list permits the whole private namespace.
func (d *Definition) Allowed(name string) bool {
	if len(d.Tools) == 0 {
		return true
	}
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}
