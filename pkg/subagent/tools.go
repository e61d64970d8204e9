package subagent

import (
	"context"
	"fmt"
	"time"

	"github.com/protean-ai/protean/pkg/capability"
	"github.com/protean-ai/protean/pkg/errmodel"
)

// Operation names the lifecycle hooks watch for.
const (
	CreateOpName   = "create_agent"
	DelegateOpName = "delegate_to_agent"
	ListOpName     = "list_agents"
	RemoveOpName   = "remove_agent"
	ToggleOpName   = "toggle_agent"
)

// Ops bundles the registry and model factory the agent operations share.
type Ops struct {
	Reg     *Registry
	Factory ModelFactory
}

// All returns every agent operation as an invocable.
func (o *Ops) All() []capability.Invocable {
	return []capability.Invocable{
		&createOp{o}, &delegateOp{o}, &listOp{o}, &removeOp{o}, &toggleOp{o},
	}
}

// inline converts a taxonomy failure into an inline payload outcome.
// System faults stay Go errors so the middleware can re-raise them.
func inline(start time.Time, err error) (*capability.Outcome, error) {
	if errmodel.From(err).Category == errmodel.CategorySystem {
		return nil, err
	}
	return &capability.Outcome{Result: errmodel.Payload(err), Elapsed: time.Since(start)}, nil
}

func ok(start time.Time, res map[string]any) (*capability.Outcome, error) {
	res["success"] = true
	return &capability.Outcome{Result: res, Elapsed: time.Since(start)}, nil
}

// --- create_agent ---

type createOp struct{ *Ops }

var createAgentParams = []capability.ParamSpec{
	{Name: "name", Kind: capability.KindString, Description: "agent name, letters digits and underscores only"},
	{Name: "role", Kind: capability.KindString, Description: "one-line role, e.g. 'data analyst'"},
	{Name: "description", Kind: capability.KindString, Description: "what the agent is for", Default: ""},
	{Name: "system_prompt", Kind: capability.KindString, Description: "system prompt the agent runs with"},
	{Name: "capabilities", Kind: capability.KindList, Description: "discovery tags", Default: []any{}},
	{Name: "model", Kind: capability.KindString, Description: "model identifier, provider or provider/model", Default: DefaultModel},
	{Name: "temperature", Kind: capability.KindFloat, Description: "sampling temperature", Default: DefaultTemperature},
}

func (op *createOp) Name() string   { return CreateOpName }
func (op *createOp) Schema() []byte { return mustSchema(createAgentParams) }

func (op *createOp) Describe() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        CreateOpName,
		Description: "Register a new specialized sub-agent with its own private capability namespace.",
		Parameters:  createAgentParams,
		UsageGuide:  "Use when a task needs a persistent specialist you will delegate to later.",
	}
}

func (op *createOp) Invoke(_ context.Context, args map[string]any) (*capability.Outcome, error) {
	start := time.Now()
	norm, err := capability.NormalizeArgs(createAgentParams, args)
	if err != nil {
		return inline(start, err)
	}
	def := &Definition{
		Name:         asString(norm["name"]),
		Role:         asString(norm["role"]),
		Description:  asString(norm["description"]),
		SystemPrompt: asString(norm["system_prompt"]),
		Capabilities: asStrings(norm["capabilities"]),
		Model:        asString(norm["model"]),
		Temperature:  asFloat(norm["temperature"]),
		Enabled:      true,
	}
	if def.Model == "" {
		def.Model = DefaultModel
	}
	if issues := LintPrompt(def.SystemPrompt); len(issues) > 0 {
		return inline(start, errmodel.Validation("bad_system_prompt",
			issues[0].Message,
			map[string]any{"name": def.Name, "rule": issues[0].Rule}))
	}
	if err := op.Reg.Create(def); err != nil {
		return inline(start, err)
	}
	return ok(start, map[string]any{
		"name":    def.Name,
		"role":    def.Role,
		"message": fmt.Sprintf("agent %q is registered and enabled", def.Name),
	})
}

// --- delegate_to_agent ---

type delegateOp struct{ *Ops }

var delegateParams = []capability.ParamSpec{
	{Name: "agent_name", Kind: capability.KindString, Description: "agent to delegate to"},
	{Name: "task", Kind: capability.KindString, Description: "the task to perform"},
	{Name: "context", Kind: capability.KindString, Description: "extra context for the task", Default: ""},
}

func (op *delegateOp) Name() string   { return DelegateOpName }
func (op *delegateOp) Schema() []byte { return mustSchema(delegateParams) }

func (op *delegateOp) Describe() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        DelegateOpName,
		Description: "Hand a task to a registered sub-agent and return its answer.",
		Parameters:  delegateParams,
		UsageGuide:  "Use when a registered specialist fits the task better than answering directly.",
	}
}

// Invoke performs one delegation. Every failure, including model and
// infrastructure faults, comes back as an inline payload; delegation never
// raises to its caller.
func (op *delegateOp) Invoke(ctx context.Context, args map[string]any) (*capability.Outcome, error) {
	start := time.Now()
	out, err := op.delegate(ctx, args)
	if err != nil {
		return &capability.Outcome{Result: errmodel.Payload(err), Elapsed: time.Since(start)}, nil
	}
	out.Elapsed = time.Since(start)
	return out, nil
}

func (op *delegateOp) delegate(ctx context.Context, args map[string]any) (*capability.Outcome, error) {
	norm, err := capability.NormalizeArgs(delegateParams, args)
	if err != nil {
		return nil, err
	}
	name := asString(norm["agent_name"])
	def, err := op.Reg.Get(name)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, errmodel.Disabled(
			fmt.Sprintf("agent %q is disabled; enable it with %s before delegating", name, ToggleOpName),
			map[string]any{"agent": name})
	}
	inst, err := Synthesize(ctx, op.Reg, name, op.Factory)
	if err != nil {
		return nil, err
	}
	answer, err := inst.Invoke(ctx, asString(norm["task"]), asString(norm["context"]))
	if err != nil {
		return nil, err
	}
	def, err = op.Reg.IncrementUsage(name)
	if err != nil {
		return nil, err
	}
	return &capability.Outcome{Result: map[string]any{
		"success":     true,
		"agent":       name,
		"response":    answer,
		"usage_count": def.UsageCount,
	}}, nil
}

// --- list_agents ---

type listOp struct{ *Ops }

var listParams = []capability.ParamSpec{
	{Name: "capability", Kind: capability.KindString, Description: "only agents carrying this discovery tag", Default: ""},
}

func (op *listOp) Name() string   { return ListOpName }
func (op *listOp) Schema() []byte { return mustSchema(listParams) }

func (op *listOp) Describe() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        ListOpName,
		Description: "List registered sub-agents, optionally filtered by discovery tag.",
		Parameters:  listParams,
		UsageGuide:  "Use to discover which specialists exist before delegating.",
	}
}

func (op *listOp) Invoke(_ context.Context, args map[string]any) (*capability.Outcome, error) {
	start := time.Now()
	norm, err := capability.NormalizeArgs(listParams, args)
	if err != nil {
		return inline(start, err)
	}
	tag := asString(norm["capability"])
	defs := op.Reg.List()
	if tag != "" {
		defs = op.Reg.ByTag(tag)
	}
	agents := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		agents = append(agents, map[string]any{
			"name":         d.Name,
			"role":         d.Role,
			"description":  d.Description,
			"capabilities": d.Capabilities,
			"enabled":      d.Enabled,
			"usage_count":  d.UsageCount,
		})
	}
	return ok(start, map[string]any{"agents": agents, "count": len(agents)})
}

// --- remove_agent ---

type removeOp struct{ *Ops }

var removeParams = []capability.ParamSpec{
	{Name: "name", Kind: capability.KindString, Description: "agent to remove"},
}

func (op *removeOp) Name() string   { return RemoveOpName }
func (op *removeOp) Schema() []byte { return mustSchema(removeParams) }

func (op *removeOp) Describe() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        RemoveOpName,
		Description: "Remove a sub-agent and delete its private capability namespace.",
		Parameters:  removeParams,
		UsageGuide:  "Use when a specialist is no longer needed; this is irreversible.",
	}
}

func (op *removeOp) Invoke(_ context.Context, args map[string]any) (*capability.Outcome, error) {
	start := time.Now()
	norm, err := capability.NormalizeArgs(removeParams, args)
	if err != nil {
		return inline(start, err)
	}
	name := asString(norm["name"])
	if err := op.Reg.Remove(name); err != nil {
		return inline(start, err)
	}
	return ok(start, map[string]any{
		"name":    name,
		"message": fmt.Sprintf("agent %q and its private namespace are deleted", name),
	})
}

// --- toggle_agent ---

type toggleOp struct{ *Ops }

var toggleParams = []capability.ParamSpec{
	{Name: "name", Kind: capability.KindString, Description: "agent to toggle"},
	{Name: "enabled", Kind: capability.KindBoolean, Description: "true to allow delegation, false to block it"},
}

func (op *toggleOp) Name() string   { return ToggleOpName }
func (op *toggleOp) Schema() []byte { return mustSchema(toggleParams) }

func (op *toggleOp) Describe() *capability.Descriptor {
	return &capability.Descriptor{
		Name:        ToggleOpName,
		Description: "Enable or disable delegation to a sub-agent.",
		Parameters:  toggleParams,
		UsageGuide:  "Use to take a misbehaving specialist out of rotation without deleting it.",
	}
}

func (op *toggleOp) Invoke(_ context.Context, args map[string]any) (*capability.Outcome, error) {
	start := time.Now()
	norm, err := capability.NormalizeArgs(toggleParams, args)
	if err != nil {
		return inline(start, err)
	}
	name := asString(norm["name"])
	enabled, _ := norm["enabled"].(bool)
	def, err := op.Reg.SetEnabled(name, enabled)
	if err != nil {
		return inline(start, err)
	}
	return ok(start, map[string]any{"name": name, "enabled": def.Enabled})
}

// --- helpers ---

func mustSchema(params []capability.ParamSpec) []byte {
	b, _ := capability.BuildSchema(params)
	return b
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asStrings(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
