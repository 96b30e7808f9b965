// Package route builds graph routers from expr-lang expressions, so
// conditional edges can be declared as data rather than Go functions.
//
// Expressions see every state field as a top-level variable:
//
//	r := route.MustCases(graph.END,
//	    route.When(`operation == "add"`, "add_node"),
//	    route.When(`operation == "subtract"`, "subtract_node"),
//	)
//	_ = b.AddConditionalEdge("router", r, r.Destinations()...)
package route

import (
	"context"
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/dshills/stategraph/graph"
)

// ExprRouter evaluates one expression that yields the destination name.
// Programs are compiled once and are safe for concurrent use.
type ExprRouter struct {
	source  string
	program *vm.Program
}

// Expr compiles an expression returning a node name, for example
// `len(messages) > 10 ? "summarize" : "chatbot"`.
func Expr(expression string) (*ExprRouter, error) {
	prg, err := compile(expression)
	if err != nil {
		return nil, err
	}
	return &ExprRouter{source: expression, program: prg}, nil
}

// Route implements graph.Router.
func (r *ExprRouter) Route(ctx context.Context, state graph.State) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out, err := vm.Run(r.program, env(state))
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", r.source, err)
	}
	dest, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("expression %q returned %T, want string", r.source, out)
	}
	return dest, nil
}

// String returns the source expression.
func (r *ExprRouter) String() string { return r.source }

// Case pairs a boolean condition with a destination.
type Case struct {
	When string
	To   string
}

// When is shorthand for a Case.
func When(condition, to string) Case {
	return Case{When: condition, To: to}
}

// CaseRouter picks the destination of the first case whose condition holds,
// or Default when none does.
type CaseRouter struct {
	cases    []Case
	programs []*vm.Program
	Default  string
}

// Cases compiles every condition up front so bad expressions fail at graph
// construction time.
func Cases(def string, cases ...Case) (*CaseRouter, error) {
	r := &CaseRouter{cases: slices.Clone(cases), Default: def}
	for _, c := range cases {
		if c.To == "" {
			return nil, fmt.Errorf("case %q has no destination", c.When)
		}
		prg, err := compile(c.When, expr.AsBool())
		if err != nil {
			return nil, err
		}
		r.programs = append(r.programs, prg)
	}
	return r, nil
}

// MustCases is Cases that panics on error, for package-level routers.
func MustCases(def string, cases ...Case) *CaseRouter {
	r, err := Cases(def, cases...)
	if err != nil {
		panic(err)
	}
	return r
}

// Route implements graph.Router.
func (r *CaseRouter) Route(ctx context.Context, state graph.State) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e := env(state)
	for i, prg := range r.programs {
		out, err := vm.Run(prg, e)
		if err != nil {
			return "", fmt.Errorf("evaluate %q: %w", r.cases[i].When, err)
		}
		if hit, _ := out.(bool); hit {
			return r.cases[i].To, nil
		}
	}
	return r.Default, nil
}

// Destinations lists every node the router can return, case order first,
// then the default. Duplicates are dropped.
func (r *CaseRouter) Destinations() []string {
	var out []string
	for _, c := range r.cases {
		if !slices.Contains(out, c.To) {
			out = append(out, c.To)
		}
	}
	if r.Default != "" && !slices.Contains(out, r.Default) {
		out = append(out, r.Default)
	}
	return out
}

func compile(expression string, opts ...expr.Option) (*vm.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty route expression")
	}
	opts = append(opts, expr.AllowUndefinedVariables())
	prg, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	return prg, nil
}

func env(state graph.State) map[string]any {
	if state == nil {
		return map[string]any{}
	}
	return map[string]any(state)
}
