// Package script compiles and runs the small expression language that
// synthesized capabilities are written in. A script is a sequence of lines,
// each either an assignment ("x = a * 2") or a bare expression. There is no
// control flow, no loops and no host access; every line is an expr-lang
// expression evaluated against the accumulated variable environment. The
// script reports its output by assigning to the "result" variable.
package script

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// assignRe matches "name = expression". The negative-ish "[^=]" guard keeps
// equality comparisons ("a == b") from parsing as assignments.
var assignRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)

// ResultVar is the variable a script assigns its output to.
const ResultVar = "result"

// reserved names may not be used as assignment targets.
var reserved = map[string]bool{
	"print":  true,
	"printf": true,
	"pow":    true,
	"sqrt":   true,
	"mod":    true,
	"true":   true,
	"false":  true,
	"nil":    true,
}

type statement struct {
	target string // "" for a bare expression
	prog   *vm.Program
	line   int
	text   string
}

// Program is a compiled script ready for repeated execution.
type Program struct {
	stmts  []statement
	source string
}

// Source returns the original script text.
func (p *Program) Source() string { return p.source }

// Compile parses and compiles every line of the script. Blank lines and
// lines starting with "#" are skipped. Compilation does not bind variables,
// so references to parameters and earlier assignments resolve at run time.
func Compile(src string) (*Program, error) {
	p := &Program{source: src}
	for i, raw := range strings.Split(src, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		target := ""
		exprText := line
		if m := assignRe.FindStringSubmatch(line); m != nil {
			target = m[1]
			exprText = strings.TrimSpace(m[2])
			if reserved[target] {
				return nil, fmt.Errorf("line %d: %q is reserved", i+1, target)
			}
		}
		prog, err := expr.Compile(exprText)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", i+1, err)
		}
		p.stmts = append(p.stmts, statement{target: target, prog: prog, line: i + 1, text: line})
	}
	if len(p.stmts) == 0 {
		return nil, fmt.Errorf("script has no statements")
	}
	return p, nil
}

// Run executes the program with the given arguments bound as variables.
// It returns the value of the "result" variable and any lines written via
// print/printf. The context is checked between statements so a cancelled
// or expired run stops promptly.
func (p *Program) Run(ctx context.Context, args map[string]any) (any, []string, error) {
	var log []string
	env := make(map[string]any, len(args)+8)
	for k, v := range args {
		env[k] = v
	}
	env["print"] = func(vals ...any) any {
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = fmt.Sprint(v)
		}
		log = append(log, strings.Join(parts, " "))
		return nil
	}
	env["printf"] = func(format string, vals ...any) any {
		log = append(log, fmt.Sprintf(format, vals...))
		return nil
	}
	env["pow"] = func(a, b float64) float64 { return math.Pow(a, b) }
	env["sqrt"] = func(a float64) float64 { return math.Sqrt(a) }
	env["mod"] = func(a, b float64) float64 { return math.Mod(a, b) }

	for _, st := range p.stmts {
		if err := ctx.Err(); err != nil {
			return nil, log, err
		}
		v, err := vm.Run(st.prog, env)
		if err != nil {
			return nil, log, fmt.Errorf("line %d (%s): %v", st.line, st.text, err)
		}
		if st.target != "" {
			env[st.target] = v
		}
	}
	res, ok := env[ResultVar]
	if !ok {
		return nil, log, fmt.Errorf("script did not assign %q", ResultVar)
	}
	return res, log, nil
}
