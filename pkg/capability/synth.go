package capability

import (
	"context"
	"time"

	"github.com/protean-ai/protean/pkg/capability/script"
	"github.com/protean-ai/protean/pkg/errmodel"
)

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 10 * time.Second

// Invocable is a runnable capability. Units synthesized from descriptors
// implement it, and so do built-in operations elsewhere in the system.
type Invocable interface {
	Name() string
	// Schema returns the JSON schema for the argument object.
	Schema() []byte
	Describe() *Descriptor
	Invoke(ctx context.Context, args map[string]any) (*Outcome, error)
}

// Outcome is the result of a successful invocation.
type Outcome struct {
	Result  any           `json:"result"`
	Log     []string      `json:"log,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Unit is a descriptor compiled into runnable form. Units are cheap to build
// and are not cached across turns, so registry edits take effect on the next
// materialization.
type Unit struct {
	desc    *Descriptor
	schema  []byte
	prog    *script.Program
	timeout time.Duration
}

// NewUnit compiles a descriptor's behavior and parameter schema. A failure
// here is a synthesis error; nothing has run yet.
func NewUnit(d *Descriptor, timeout time.Duration) (*Unit, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	prog, err := script.Compile(d.Behavior)
	if err != nil {
		return nil, errmodel.New(errmodel.CategorySynthesis, "bad_behavior",
			"behavior script does not compile",
			map[string]any{"name": d.Name}, err)
	}
	schema, err := BuildSchema(d.Parameters)
	if err != nil {
		return nil, errmodel.New(errmodel.CategorySynthesis, "bad_schema",
			"parameter schema generation failed",
			map[string]any{"name": d.Name}, err)
	}
	if err := CompileSchema(schema); err != nil {
		return nil, errmodel.New(errmodel.CategorySynthesis, "bad_schema",
			"generated schema does not compile",
			map[string]any{"name": d.Name}, err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Unit{desc: d.Clone(), schema: schema, prog: prog, timeout: timeout}, nil
}

func (u *Unit) Name() string          { return u.desc.Name }
func (u *Unit) Schema() []byte        { return u.schema }
func (u *Unit) Describe() *Descriptor { return u.desc.Clone() }

// Invoke validates and normalizes the arguments, then runs the behavior
// script under the unit's timeout. Validation problems are validation
// errors; script failures are execution errors.
func (u *Unit) Invoke(ctx context.Context, args map[string]any) (*Outcome, error) {
	if args == nil {
		args = map[string]any{}
	}
	norm, err := NormalizeArgs(u.desc.Parameters, args)
	if err != nil {
		return nil, err
	}
	if err := ValidateArgs(u.schema, norm); err != nil {
		return nil, errmodel.Validation("bad_arguments", err.Error(),
			map[string]any{"name": u.desc.Name})
	}
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	start := time.Now()
	res, log, err := u.prog.Run(ctx, norm)
	if err != nil {
		return nil, errmodel.Execution(err.Error(),
			map[string]any{"name": u.desc.Name}, nil)
	}
	return &Outcome{Result: res, Log: log, Elapsed: time.Since(start)}, nil
}

// Spec is the caller-facing request to synthesize a new capability.
type Spec struct {
	Name        string
	Description string
	Parameters  []ParamSpec
	Behavior    string
	UsageGuide  string
}

// Synthesize builds a descriptor from the spec, registers it, and proves the
// registered form round-trips into a runnable unit. If the proof fails the
// entry is removed again, so the registry never holds a capability that
// cannot be materialized.
func Synthesize(reg *Registry, s Spec) (*Descriptor, error) {
	guide := s.UsageGuide
	if guide == "" {
		guide = s.Description
	}
	d := &Descriptor{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Parameters,
		Behavior:    s.Behavior,
		UsageGuide:  guide,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := NewUnit(d, 0); err != nil {
		return nil, err
	}
	if err := reg.Add(d); err != nil {
		return nil, err
	}
	stored, err := reg.Get(d.Name)
	if err == nil {
		_, err = NewUnit(stored, 0)
	}
	if err != nil {
		_ = reg.Remove(d.Name)
		return nil, errmodel.Synthesis("stored descriptor failed materialization",
			map[string]any{"name": d.Name}, err)
	}
	return d.Clone(), nil
}

// Materialize builds a fresh unit from the registered descriptor.
func Materialize(reg *Registry, name string, timeout time.Duration) (*Unit, error) {
	d, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	return NewUnit(d, timeout)
}
