package admin

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"rangescan/internal/core/apperror"
	"rangescan/internal/core/ranges"
)

// Filter is a compiled boolean CEL expression over range fields, e.g.
//
//	status == "pending" && remaining < 1000
type Filter struct {
	expr string
	prg  cel.Program
}

func filterEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("digit_width", cel.IntType),
		cel.Variable("last_allocated", cel.IntType),
		cel.Variable("remaining", cel.IntType),
		cel.Variable("has_separator", cel.BoolType),
	)
}

// CompileFilter parses expr. An empty expression yields a nil filter that
// matches everything.
func CompileFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	env, err := filterEnv()
	if err != nil {
		return nil, fmt.Errorf("filter environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, apperror.NewValidation("invalid filter").
			WithDetail("filter", expr).
			WithDetail("reason", iss.Err().Error())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, apperror.NewValidation("filter must be a boolean expression").
			WithDetail("filter", expr)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, apperror.NewValidation("invalid filter").
			WithDetail("filter", expr).
			WithDetail("reason", err.Error())
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// Match evaluates the filter against r. A nil filter matches.
func (f *Filter) Match(r ranges.Range) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(map[string]any{
		"key":            r.Key,
		"status":         string(r.Status),
		"digit_width":    int64(r.DigitWidth),
		"last_allocated": r.LastAllocated,
		"remaining":      r.Remaining(),
		"has_separator":  r.HasSeparator,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q on %s: %w", f.expr, r.Key, err)
	}
	ok, _ := out.Value().(bool)
	return ok, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}
