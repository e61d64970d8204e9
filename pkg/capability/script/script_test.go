package script

import (
	"context"
	"strings"
	"testing"
)

func TestCompileAndRun(t *testing.T) {
	p, err := Compile("area = 3.14159 * radius * radius\nresult = area")
	if err != nil {
		t.Fatal(err)
	}
	res, _, err := p.Run(context.Background(), map[string]any{"radius": 2.0})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := res.(float64)
	if !ok || got < 12.56 || got > 12.57 {
		t.Fatalf("result = %v, want ~12.566", res)
	}
}

func TestPrintCapture(t *testing.T) {
	p, err := Compile(`print("computing", x)` + "\nresult = x + 1")
	if err != nil {
		t.Fatal(err)
	}
	res, log, err := p.Run(context.Background(), map[string]any{"x": 41})
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 || log[0] != "computing 41" {
		t.Fatalf("log = %v", log)
	}
	if res.(int) != 42 {
		t.Fatalf("result = %v", res)
	}
}

func TestEqualityNotAssignment(t *testing.T) {
	p, err := Compile("result = x == 3")
	if err != nil {
		t.Fatal(err)
	}
	res, _, err := p.Run(context.Background(), map[string]any{"x": 3})
	if err != nil {
		t.Fatal(err)
	}
	if res != true {
		t.Fatalf("result = %v, want true", res)
	}
}

func TestReservedTarget(t *testing.T) {
	if _, err := Compile("print = 1"); err == nil {
		t.Fatal("expected error assigning to reserved name")
	}
}

func TestMissingResult(t *testing.T) {
	p, err := Compile("x = 1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "result") {
		t.Fatalf("err = %v, want missing result", err)
	}
}

func TestBadSyntax(t *testing.T) {
	if _, err := Compile("result = 1 +"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestCancellation(t *testing.T) {
	p, err := Compile("x = 1\nresult = x")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := p.Run(ctx, nil); err == nil {
		t.Fatal("expected context error")
	}
}

func TestHelpers(t *testing.T) {
	p, err := Compile("result = pow(2.0, 10.0) + sqrt(9.0) + mod(7.0, 4.0)")
	if err != nil {
		t.Fatal(err)
	}
	res, _, err := p.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.(float64) != 1024+3+3 {
		t.Fatalf("result = %v", res)
	}
}

func TestEmptyScript(t *testing.T) {
	if _, err := Compile("  \n# only a comment\n"); err == nil {
		t.Fatal("expected error for empty script")
	}
}
