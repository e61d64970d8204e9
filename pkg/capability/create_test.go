package capability

import (
	"context"
	"testing"
)

type fakeResolver struct {
	regs map[string]*Registry
}

func (f *fakeResolver) Exists(name string) bool {
	_, ok := f.regs[name]
	return ok
}

func (f *fakeResolver) ToolsRegistry(name string) (*Registry, error) {
	return f.regs[name], nil
}

func TestCreateOpGlobal(t *testing.T) {
	global, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	op := &CreateOp{Global: global}
	out, err := op.Invoke(context.Background(), map[string]any{
		"name":        "triple",
		"description": "triples a number",
		"parameters":  `{"x": {"type": "float", "description": "input"}}`,
		"behavior":    "result = x * 3",
	})
	if err != nil {
		t.Fatal(err)
	}
	res := out.Result.(map[string]any)
	if res["success"] != true {
		t.Fatalf("result = %v", res)
	}
	if _, err := global.Get("triple"); err != nil {
		t.Fatalf("not registered: %v", err)
	}
}

func TestCreateOpTargetAgent(t *testing.T) {
	global, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	private, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	op := &CreateOp{
		Global: global,
		Agents: &fakeResolver{regs: map[string]*Registry{"helper": private}},
	}
	out, err := op.Invoke(context.Background(), map[string]any{
		"name":         "quadruple",
		"description":  "quadruples a number",
		"parameters":   `{"x": {"type": "float"}}`,
		"behavior":     "result = x * 4",
		"target_agent": "helper",
	})
	if err != nil {
		t.Fatal(err)
	}
	res := out.Result.(map[string]any)
	if res["success"] != true || res["target_agent"] != "helper" {
		t.Fatalf("result = %v", res)
	}
	if _, err := private.Get("quadruple"); err != nil {
		t.Fatalf("not in private namespace: %v", err)
	}
	if global.Len() != 0 {
		t.Fatal("capability leaked into global namespace")
	}
}

func TestCreateOpUnknownAgentInlineFailure(t *testing.T) {
	global, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	op := &CreateOp{Global: global, Agents: &fakeResolver{regs: map[string]*Registry{}}}
	out, err := op.Invoke(context.Background(), map[string]any{
		"name":         "x1",
		"description":  "d",
		"behavior":     "result = 1",
		"target_agent": "ghost",
	})
	if err != nil {
		t.Fatal(err)
	}
	res := out.Result.(map[string]any)
	if res["success"] != false || res["category"] != "not_found" {
		t.Fatalf("result = %v", res)
	}
}

func TestCreateOpBadNameInlineFailure(t *testing.T) {
	global, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	op := &CreateOp{Global: global}
	out, err := op.Invoke(context.Background(), map[string]any{
		"name":        "bad name!",
		"description": "d",
		"behavior":    "result = 1",
	})
	if err != nil {
		t.Fatal(err)
	}
	res := out.Result.(map[string]any)
	if res["success"] != false || res["category"] != "validation" {
		t.Fatalf("result = %v", res)
	}
	if global.Len() != 0 {
		t.Fatal("invalid capability was registered")
	}
}

func TestParseParamsSortedAndDefaulted(t *testing.T) {
	params, err := ParseParams(`{
		"b": {"type": "integer", "description": "second"},
		"a": {"description": "first", "default": "x"}
	}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 2 || params[0].Name != "a" || params[1].Name != "b" {
		t.Fatalf("params = %+v", params)
	}
	if params[0].Kind != KindString || params[0].Required() {
		t.Fatalf("param a = %+v", params[0])
	}
	if params[1].Kind != KindInteger || !params[1].Required() {
		t.Fatalf("param b = %+v", params[1])
	}
}

func TestParseParamsRejectsNonObject(t *testing.T) {
	if _, err := ParseParams(`[1,2]`); !isCategory(err, "validation") {
		t.Fatalf("err = %v, want validation", err)
	}
}
