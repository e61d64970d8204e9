package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/protean-ai/protean/pkg/adapters/llm"
	"github.com/protean-ai/protean/pkg/assemble"
	"github.com/protean-ai/protean/pkg/capability"
	"github.com/protean-ai/protean/pkg/errmodel"
)

// contextTokenBudget bounds the context block handed to a delegated agent.
const contextTokenBudget = 2000

var contextBuilder = sync.OnceValue(func() *assemble.Builder {
	opts := []assemble.Option{assemble.WithBudget(contextTokenBudget)}
	if est, err := assemble.NewTikTokenEstimator("gpt-4o"); err == nil {
		opts = append(opts, assemble.WithEstimator(est))
	}
	return assemble.New(opts...)
})

// ModelFactory builds a model client for an agent's configured model and
// temperature. Delegation uses it so each sub-agent runs with its own model
// configuration rather than inheriting the delegator's.
type ModelFactory func(ctx context.Context, modelID string, temperature float64) (llm.LLM, error)

// ProviderFactory resolves models through the llm provider registry. The
// model identifier is either a bare provider name ("openai") or
// "provider/model" ("openai/gpt-5-nano").
func ProviderFactory(ctx context.Context, modelID string, temperature float64) (llm.LLM, error) {
	provider := modelID
	cfg := map[string]any{}
	if i := strings.IndexByte(modelID, '/'); i >= 0 {
		provider = modelID[:i]
		cfg["model"] = modelID[i+1:]
	}
	_ = temperature // applied per call through generate opts
	return llm.New(ctx, provider, cfg)
}

// maxSteps bounds the prompt/invoke loop of one delegation.
const maxSteps = 4

// Instance is a runnable sub-agent: a definition, a model client, and a
// fresh view of the agent's private capability namespace. Instances are
// built per delegation and never cached.
type Instance struct {
	def   *Definition
	model llm.LLM
	tools *capability.Registry
}

// Synthesize builds a runnable instance for the named agent. The private
// namespace is reloaded from disk as part of synthesis.
func Synthesize(ctx context.Context, reg *Registry, name string, factory ModelFactory) (*Instance, error) {
	def, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	tools, err := reg.ToolsRegistry(name)
	if err != nil {
		return nil, err
	}
	if factory == nil {
		factory = ProviderFactory
	}
	model, err := factory(ctx, def.Model, def.Temperature)
	if err != nil {
		return nil, errmodel.Synthesis("building agent model failed",
			map[string]any{"agent": name, "model": def.Model}, err)
	}
	return &Instance{def: def, model: model, tools: tools}, nil
}

// Definition returns the instance's definition.
func (in *Instance) Definition() *Definition { return in.def.Clone() }

// available returns the descriptors the agent may invoke, honoring the
// allow-list.
func (in *Instance) available() []*capability.Descriptor {
	var out []*capability.Descriptor
	for _, d := range in.tools.List() {
		if in.def.Allowed(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// Invoke runs one delegated task. The model sees the agent's system prompt,
// its private capability list, and the task plus optional context. Replies
// containing a "tool:<name> {json}" line trigger an invocation whose
// outcome is fed back as an observation; anything else is the final answer.
// Capability failures are reported back into the loop as structured text,
// never raised to the delegator.
func (in *Instance) Invoke(ctx context.Context, task, taskContext string) (string, error) {
	user := task
	if taskContext != "" {
		user = task + "\n\nContext:\n" + contextBuilder().BoundText(taskContext)
	}
	messages := []llm.Message{
		{Role: "system", Content: in.systemPrompt()},
		{Role: "user", Content: user},
	}
	opts := map[string]any{"temperature": in.def.Temperature}

	for step := 0; step < maxSteps; step++ {
		res, err := in.model.Generate(ctx, messages, opts)
		if err != nil {
			return "", errmodel.Execution("model call failed",
				map[string]any{"agent": in.def.Name}, err)
		}
		name, args, ok := parseInvocation(res.Text)
		if !ok {
			return strings.TrimSpace(res.Text), nil
		}
		messages = append(messages, llm.Message{Role: "assistant", Content: res.Text})
		messages = append(messages, llm.Message{
			Role:    "user",
			Content: "Observation: " + in.runCapability(ctx, name, args),
		})
	}
	return "", errmodel.Execution("delegation exceeded the step limit",
		map[string]any{"agent": in.def.Name, "steps": maxSteps}, nil)
}

func (in *Instance) systemPrompt() string {
	var b strings.Builder
	b.WriteString(in.def.SystemPrompt)
	caps := in.available()
	if len(caps) == 0 {
		return b.String()
	}
	b.WriteString("\n\nYou can invoke these capabilities by replying with a single line of the form `tool:<name> {\"arg\": value}`:\n")
	for _, d := range caps {
		fmt.Fprintf(&b, "- %s: %s", d.Name, d.Description)
		if len(d.Parameters) > 0 {
			names := make([]string, len(d.Parameters))
			for i, p := range d.Parameters {
				names[i] = p.Name + " (" + p.Kind + ")"
			}
			fmt.Fprintf(&b, " [parameters: %s]", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// runCapability executes one private capability and renders the outcome as
// the observation text fed back to the model.
func (in *Instance) runCapability(ctx context.Context, name string, args map[string]any) string {
	if !in.def.Allowed(name) {
		return renderJSON(errmodel.Payload(errmodel.New(errmodel.CategoryPolicy,
			"not_allowed", "capability is not on this agent's allow-list",
			map[string]any{"capability": name})))
	}
	unit, err := capability.Materialize(in.tools, name, 0)
	if err != nil {
		return renderJSON(errmodel.Payload(err))
	}
	out, err := unit.Invoke(ctx, args)
	if err != nil {
		return renderJSON(errmodel.Payload(err))
	}
	_ = in.tools.IncrementUsage(name)
	return renderJSON(map[string]any{
		"success": true,
		"result":  out.Result,
		"log":     out.Log,
	})
}

func renderJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// parseInvocation scans reply text for a capability invocation request of
// the form "tool:<name> {json-args}".
func parseInvocation(text string) (string, map[string]any, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "`"))
		if !strings.HasPrefix(line, "tool:") {
			continue
		}
		rest := strings.TrimPrefix(line, "tool:")
		name := rest
		args := map[string]any{}
		if i := strings.IndexAny(rest, " \t"); i >= 0 {
			name = rest[:i]
			raw := strings.TrimSpace(rest[i:])
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					continue
				}
			}
		}
		name = strings.TrimSpace(name)
		if name != "" {
			return name, args, true
		}
	}
	return "", nil, false
}
