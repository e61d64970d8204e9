package capability

import (
	"context"
	"encoding/json"
	"testing"
)

func TestSynthesizeAndInvoke(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	d, err := Synthesize(r, Spec{
		Name:        "circle_area",
		Description: "area of a circle",
		Parameters: []ParamSpec{
			{Name: "radius", Kind: KindFloat, Description: "radius in meters"},
		},
		Behavior: "result = 3.14159265 * radius * radius",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.UsageGuide != "area of a circle" {
		t.Fatalf("usage guide not defaulted: %q", d.UsageGuide)
	}

	u, err := Materialize(r, "circle_area", 0)
	if err != nil {
		t.Fatal(err)
	}
	out, err := u.Invoke(context.Background(), map[string]any{"radius": 2.0})
	if err != nil {
		t.Fatal(err)
	}
	got := out.Result.(float64)
	if got < 12.56 || got > 12.57 {
		t.Fatalf("result = %v", got)
	}
}

func TestSynthesizeBadBehaviorLeavesNoTrace(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = Synthesize(r, Spec{
		Name:        "broken",
		Description: "never compiles",
		Behavior:    "result = (",
	})
	if !isCategory(err, "synthesis") {
		t.Fatalf("err = %v, want synthesis", err)
	}
	if r.Len() != 0 {
		t.Fatal("failed synthesis left an entry behind")
	}
}

func TestSynthesizeDuplicate(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	spec := Spec{Name: "one", Description: "d", Behavior: "result = 1"}
	if _, err := Synthesize(r, spec); err != nil {
		t.Fatal(err)
	}
	if _, err := Synthesize(r, spec); !isCategory(err, "duplicate") {
		t.Fatalf("err = %v, want duplicate", err)
	}
}

func TestInvokeMissingRequiredArg(t *testing.T) {
	u, err := NewUnit(testDescriptor("double"), 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = u.Invoke(context.Background(), map[string]any{})
	if !isCategory(err, "validation") {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestInvokeAppliesDefaults(t *testing.T) {
	d := &Descriptor{
		Name:        "greet",
		Description: "greets",
		Parameters: []ParamSpec{
			{Name: "who", Kind: KindString, Default: "world"},
		},
		Behavior: `result = "hello " + who`,
	}
	u, err := NewUnit(d, 0)
	if err != nil {
		t.Fatal(err)
	}
	out, err := u.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Result != "hello world" {
		t.Fatalf("result = %v", out.Result)
	}
}

func TestInvokeRejectsWrongType(t *testing.T) {
	u, err := NewUnit(testDescriptor("double"), 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = u.Invoke(context.Background(), map[string]any{"x": "two"})
	if !isCategory(err, "validation") {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestInvokeExecutionFailure(t *testing.T) {
	d := &Descriptor{
		Name:        "noresult",
		Description: "forgets to assign result",
		Behavior:    "x = 1",
	}
	u, err := NewUnit(d, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = u.Invoke(context.Background(), nil)
	if !isCategory(err, "execution") {
		t.Fatalf("err = %v, want execution", err)
	}
}

func TestBuildSchemaShape(t *testing.T) {
	b, err := BuildSchema([]ParamSpec{
		{Name: "count", Kind: KindInteger, Description: "how many"},
		{Name: "label", Kind: KindString, Default: "none"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var s struct {
		Type       string `json:"type"`
		Required   []string
		Properties map[string]struct {
			Type    string          `json:"type"`
			Default json.RawMessage `json:"default"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(b, &s); err != nil {
		t.Fatal(err)
	}
	if s.Type != "object" {
		t.Fatalf("type = %q", s.Type)
	}
	if len(s.Required) != 1 || s.Required[0] != "count" {
		t.Fatalf("required = %v", s.Required)
	}
	if s.Properties["count"].Type != "integer" {
		t.Fatalf("count type = %q", s.Properties["count"].Type)
	}
	if string(s.Properties["label"].Default) != `"none"` {
		t.Fatalf("label default = %s", s.Properties["label"].Default)
	}
}

func TestBuildSchemaUnknownKindDegrades(t *testing.T) {
	b, err := BuildSchema([]ParamSpec{{Name: "x", Kind: "mystery"}})
	if err != nil {
		t.Fatal(err)
	}
	var s struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(b, &s); err != nil {
		t.Fatal(err)
	}
	if s.Properties["x"].Type != "string" {
		t.Fatalf("type = %q, want string", s.Properties["x"].Type)
	}
}
