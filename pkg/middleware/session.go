package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/protean-ai/protean/pkg/adapters/llm"
	"github.com/protean-ai/protean/pkg/capability"
	"github.com/protean-ai/protean/pkg/errmodel"
	"github.com/protean-ai/protean/pkg/subagent"
)

var tracer = otel.Tracer("protean/middleware")

// Config wires a session to its collaborators.
type Config struct {
	Global  *capability.Registry
	Agents  *subagent.Registry
	Factory subagent.ModelFactory
	Model   llm.LLM
	Emitter Emitter
	// MaxToolCalls bounds capability invocations within one turn.
	MaxToolCalls int
	SystemPrompt string
}

const defaultMaxToolCalls = 8

// TurnInput is one user request.
type TurnInput struct {
	Text string
}

// TurnOutput is the final text of a turn plus what happened along the way.
type TurnOutput struct {
	Text    string
	Steps   int
	Created []string
	TurnID  string
}

// Session is the lifecycle middleware for one conversation. Turns run
// strictly sequentially per session; distinct sessions may run concurrently
// over the same shared registries.
type Session struct {
	id  string
	cfg Config

	mu      sync.Mutex
	current []*capability.Descriptor // pre-model snapshot of the global set
	refresh bool                     // next pre-model must re-scan storage
	created []string                 // names created during the last turn
	stats   map[string]*Stat
	ops     map[string]capability.Invocable
	history []llm.Message
	seq     int
}

// NewSession builds a middleware instance with the built-in operations
// (capability creation plus the agent lifecycle set) installed.
func NewSession(id string, cfg Config) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = defaultMaxToolCalls
	}
	s := &Session{id: id, cfg: cfg, stats: map[string]*Stat{}, ops: map[string]capability.Invocable{}}
	create := &capability.CreateOp{Global: cfg.Global, Agents: cfg.Agents}
	s.ops[create.Name()] = create
	if cfg.Agents != nil {
		for _, op := range (&subagent.Ops{Reg: cfg.Agents, Factory: cfg.Factory}).All() {
			s.ops[op.Name()] = op
		}
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) emit(kind EventKind, turn string, payload map[string]any) {
	if s.cfg.Emitter == nil {
		return
	}
	s.seq++
	s.cfg.Emitter(StepEvent{
		Kind: kind, Session: s.id, Turn: turn, Seq: s.seq,
		Time: time.Now(), Payload: payload,
	})
}

// BeforeModel recomputes the active capability snapshot. When the previous
// turn created something, storage is re-scanned instead of trusting the
// registry's cached index.
func (s *Session) BeforeModel(turn string) error {
	s.mu.Lock()
	forced := s.refresh
	s.refresh = false
	s.created = nil
	s.mu.Unlock()
	if forced {
		if err := s.cfg.Global.Reload(); err != nil {
			return err
		}
		s.emit(EventRefresh, turn, map[string]any{"forced": true})
	}
	snapshot := s.cfg.Global.List()
	s.mu.Lock()
	s.current = snapshot
	s.mu.Unlock()
	return nil
}

// WrapModelCall merges the caller's attached capability list with the
// current snapshot, deduplicated by name with the first occurrence winning.
func (s *Session) WrapModelCall(attached []*capability.Descriptor) []*capability.Descriptor {
	s.mu.Lock()
	snapshot := s.current
	s.mu.Unlock()
	seen := make(map[string]bool, len(attached)+len(snapshot))
	out := make([]*capability.Descriptor, 0, len(attached)+len(snapshot))
	for _, set := range [][]*capability.Descriptor{attached, snapshot} {
		for _, d := range set {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			out = append(out, d)
		}
	}
	return out
}

// WrapToolCall intercepts one capability invocation: it records statistics,
// persists the usage counter for registry capabilities, and watches for
// successful creation operations. Invocation failures are logged and
// re-raised unchanged.
func (s *Session) WrapToolCall(ctx context.Context, turn, name string, args map[string]any) (*capability.Outcome, error) {
	ctx, span := tracer.Start(ctx, "tool."+name)
	defer span.End()
	span.SetAttributes(attribute.String("session", s.id))

	s.emit(EventToolCall, turn, map[string]any{"name": name, "args": args})
	start := time.Now()
	out, err := s.dispatch(ctx, name, args)
	elapsed := time.Since(start)

	s.mu.Lock()
	st := s.stats[name]
	if st == nil {
		st = &Stat{}
		s.stats[name] = st
	}
	st.Calls++
	st.Elapsed += elapsed
	st.LastUsed = time.Now()
	if err != nil {
		st.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("capability invocation failed",
			"session", s.id, "capability", name, "error", err)
		s.emit(EventError, turn, map[string]any{"name": name, "error": err.Error()})
		return nil, err
	}
	if created, ok := creationResult(name, out); ok {
		s.mu.Lock()
		s.created = append(s.created, created)
		s.mu.Unlock()
		s.emit(EventCreated, turn, map[string]any{"name": created, "via": name})
	}
	s.emit(EventToolResult, turn, map[string]any{
		"name": name, "elapsed_ms": elapsed.Milliseconds(),
	})
	return out, nil
}

// dispatch routes an invocation to a built-in operation or a synthesized
// global capability. Registry capabilities get their persisted usage counter
// bumped on success.
func (s *Session) dispatch(ctx context.Context, name string, args map[string]any) (*capability.Outcome, error) {
	if op, ok := s.ops[name]; ok {
		return op.Invoke(ctx, args)
	}
	unit, err := capability.Materialize(s.cfg.Global, name, 0)
	if err != nil {
		return nil, err
	}
	out, err := unit.Invoke(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := s.cfg.Global.IncrementUsage(name); err != nil {
		slog.Warn("usage increment failed", "capability", name, "error", err)
	}
	return out, nil
}

// AfterModel closes the turn: if any invocation was a creation operation,
// the next turn's BeforeModel must re-scan storage rather than trust any
// cached set.
func (s *Session) AfterModel(turn string, invoked []string) {
	creation := false
	for _, name := range invoked {
		if name == capability.CreateOpName || name == subagent.CreateOpName {
			creation = true
			break
		}
	}
	s.mu.Lock()
	if creation || len(s.created) > 0 {
		s.refresh = true
	}
	s.mu.Unlock()
}

// creationResult inspects a creation operation's outcome and extracts the
// new unit's name if the operation reported success.
func creationResult(op string, out *capability.Outcome) (string, bool) {
	if op != capability.CreateOpName && op != subagent.CreateOpName {
		return "", false
	}
	res, ok := out.Result.(map[string]any)
	if !ok || res["success"] != true {
		return "", false
	}
	name, _ := res["name"].(string)
	return name, name != ""
}

// Invoke runs one full turn: pre-model snapshot, a bounded model/tool loop,
// post-model bookkeeping. Capability failures are folded back into the
// conversation as structured observations; only infrastructure faults abort
// the turn.
func (s *Session) Invoke(ctx context.Context, in TurnInput) (*TurnOutput, error) {
	turn := uuid.NewString()
	ctx, span := tracer.Start(ctx, "turn")
	defer span.End()
	span.SetAttributes(attribute.String("session", s.id), attribute.String("turn", turn))

	s.emit(EventTurnStart, turn, map[string]any{"input_len": len(in.Text)})
	if err := s.BeforeModel(turn); err != nil {
		return nil, err
	}
	available := s.WrapModelCall(s.opDescriptors())

	messages := s.historyCopy()
	if len(messages) == 0 && s.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: s.cfg.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: in.Text + "\n\n" + renderCapabilities(available)})

	var invoked []string
	steps := 0
	for {
		s.emit(EventModelCall, turn, map[string]any{"capabilities": len(available)})
		res, err := s.cfg.Model.Generate(ctx, messages, nil)
		if err != nil {
			s.emit(EventError, turn, map[string]any{"error": err.Error()})
			return nil, errmodel.Execution("model call failed",
				map[string]any{"session": s.id}, err)
		}
		name, args, ok := parseInvocation(res.Text)
		if !ok {
			text := strings.TrimSpace(res.Text)
			s.appendHistory(in.Text, text)
			s.AfterModel(turn, invoked)
			s.mu.Lock()
			created := append([]string(nil), s.created...)
			s.mu.Unlock()
			s.emit(EventTurnEnd, turn, map[string]any{"steps": steps})
			return &TurnOutput{Text: text, Steps: steps, Created: created, TurnID: turn}, nil
		}
		if steps++; steps > s.cfg.MaxToolCalls {
			s.AfterModel(turn, invoked)
			return nil, errmodel.Execution("turn exceeded the tool-call limit",
				map[string]any{"session": s.id, "limit": s.cfg.MaxToolCalls}, nil)
		}
		invoked = append(invoked, name)
		messages = append(messages, llm.Message{Role: "assistant", Content: res.Text})
		out, err := s.WrapToolCall(ctx, turn, name, args)
		var observation any
		if err != nil {
			// Recovered here, at the operation boundary: the failure is
			// reported to the model inline and the turn continues.
			observation = errmodel.Payload(err)
		} else if m, ok := out.Result.(map[string]any); ok {
			observation = m
		} else {
			observation = map[string]any{"success": true, "result": out.Result, "log": out.Log}
		}
		b, _ := json.Marshal(observation)
		messages = append(messages, llm.Message{Role: "user", Content: "Observation: " + string(b)})
	}
}

func (s *Session) opDescriptors() []*capability.Descriptor {
	out := make([]*capability.Descriptor, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, op.Describe())
	}
	return out
}

func (s *Session) historyCopy() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

func (s *Session) appendHistory(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: "user", Content: user},
		llm.Message{Role: "assistant", Content: assistant},
	)
}

// Stats returns a copy of the session's in-memory invocation statistics.
func (s *Session) Stats() map[string]Stat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Stat, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

// renderCapabilities formats the available capability list for the prompt.
func renderCapabilities(caps []*capability.Descriptor) string {
	if len(caps) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available capabilities (invoke with a single line `tool:<name> {\"arg\": value}`):\n")
	for _, d := range caps {
		fmt.Fprintf(&b, "- %s: %s", d.Name, d.Description)
		if d.UsageGuide != "" && d.UsageGuide != d.Description {
			fmt.Fprintf(&b, " (%s)", d.UsageGuide)
		}
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

// parseInvocation scans model output for a "tool:<name> {json}" line.
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
