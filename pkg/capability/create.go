package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/protean-ai/protean/pkg/errmodel"
)

// AgentResolver locates the private capability namespace of a named agent.
// The sub-agent registry implements it; the indirection keeps this package
// free of a dependency on agent storage.
type AgentResolver interface {
	Exists(name string) bool
	ToolsRegistry(name string) (*Registry, error)
}

// CreateOpName is the well-known name of the synthesis operation. The
// lifecycle hooks watch for it to detect mid-turn capability creation.
const CreateOpName = "create_capability"

// CreateOp is the built-in operation a model calls to synthesize a new
// capability. With no target agent the capability lands in the global
// namespace; with one, in that agent's private namespace.
type CreateOp struct {
	Global *Registry
	Agents AgentResolver
}

var createParams = []ParamSpec{
	{Name: "name", Kind: KindString, Description: "capability name, letters digits and underscores only"},
	{Name: "description", Kind: KindString, Description: "what the capability computes"},
	{Name: "parameters", Kind: KindString, Description: "JSON object mapping parameter name to {type, description, default}", Default: "{}"},
	{Name: "behavior", Kind: KindString, Description: "behavior script; assign the output to 'result'"},
	{Name: "usage_guide", Kind: KindString, Description: "when a caller should reach for this capability", Default: ""},
	{Name: "target_agent", Kind: KindString, Description: "agent whose private namespace receives the capability", Default: ""},
}

func (op *CreateOp) Name() string { return CreateOpName }

func (op *CreateOp) Schema() []byte {
	b, _ := BuildSchema(createParams)
	return b
}

func (op *CreateOp) Describe() *Descriptor {
	return &Descriptor{
		Name:        CreateOpName,
		Description: "Define and register a new capability from a description, a parameter list and a behavior script.",
		Parameters:  createParams,
		UsageGuide:  "Use when no existing capability covers the requested computation.",
	}
}

// Invoke performs the synthesis. Taxonomy failures come back inline as a
// failure payload so the calling model can read and react to them; only
// infrastructure faults surface as Go errors.
func (op *CreateOp) Invoke(ctx context.Context, args map[string]any) (*Outcome, error) {
	start := time.Now()
	spec, target, err := op.parse(args)
	if err != nil {
		return &Outcome{Result: errmodel.Payload(err), Elapsed: time.Since(start)}, nil
	}
	reg := op.Global
	if target != "" {
		if op.Agents == nil || !op.Agents.Exists(target) {
			err := errmodel.NotFound("no such agent",
				map[string]any{"agent": target})
			return &Outcome{Result: errmodel.Payload(err), Elapsed: time.Since(start)}, nil
		}
		reg, err = op.Agents.ToolsRegistry(target)
		if err != nil {
			return &Outcome{Result: errmodel.Payload(err), Elapsed: time.Since(start)}, nil
		}
	}
	d, err := Synthesize(reg, spec)
	if err != nil {
		ce := errmodel.From(err)
		if ce.Category == errmodel.CategorySystem {
			return nil, err
		}
		return &Outcome{Result: errmodel.Payload(err), Elapsed: time.Since(start)}, nil
	}
	names := make([]string, len(d.Parameters))
	for i, p := range d.Parameters {
		names[i] = p.Name
	}
	res := map[string]any{
		"success":    true,
		"name":       d.Name,
		"parameters": names,
		"message":    fmt.Sprintf("capability %q is registered and ready", d.Name),
	}
	if target != "" {
		res["target_agent"] = target
		res["message"] = fmt.Sprintf("capability %q is registered for agent %q", d.Name, target)
	}
	return &Outcome{Result: res, Elapsed: time.Since(start)}, nil
}

func (op *CreateOp) parse(args map[string]any) (Spec, string, error) {
	norm, err := NormalizeArgs(createParams, args)
	if err != nil {
		return Spec{}, "", err
	}
	s := Spec{
		Name:        str(norm["name"]),
		Description: str(norm["description"]),
		Behavior:    str(norm["behavior"]),
		UsageGuide:  str(norm["usage_guide"]),
	}
	params, err := ParseParams(str(norm["parameters"]))
	if err != nil {
		return Spec{}, "", err
	}
	s.Parameters = params
	return s, str(norm["target_agent"]), nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// paramDecl is the wire form of one entry in the "parameters" argument.
type paramDecl struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default"`
}

// ParseParams decodes the JSON parameter declaration used by the synthesis
// operation into descriptor parameter specs, sorted by name so the generated
// schema is deterministic.
func ParseParams(raw string) ([]ParamSpec, error) {
	if raw == "" {
		return nil, nil
	}
	var decls map[string]paramDecl
	if err := json.Unmarshal([]byte(raw), &decls); err != nil {
		return nil, errmodel.Validation("bad_parameters",
			"parameters is not a JSON object",
			map[string]any{"detail": err.Error()})
	}
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ParamSpec, 0, len(names))
	for _, name := range names {
		decl := decls[name]
		kind := decl.Type
		if kind == "" {
			kind = KindString
		}
		out = append(out, ParamSpec{
			Name:        name,
			Kind:        kind,
			Description: decl.Description,
			Default:     decl.Default,
		})
	}
	return out, nil
}
