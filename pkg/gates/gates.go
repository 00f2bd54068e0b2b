// Package gates evaluates named precondition gates before mutating commands
// run. Evaluation is side-effect-free and deterministic for a given
// filesystem/environment snapshot; every gate is always evaluated (no
// short-circuit) so the operator sees the complete remediation picture in
// one pass.
package gates

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/fouchger/homelab/pkg/schema"
)

// FailureClass distinguishes gate failures the operator can fix from ones
// that abort the invocation outright.
type FailureClass string

const (
	Recoverable FailureClass = "recoverable"
	Fatal       FailureClass = "fatal"
)

// Result is the outcome of evaluating a single gate.
type Result struct {
	GateName     string       `json:"gate_name"`
	Passed       bool         `json:"passed"`
	Skipped      bool         `json:"skipped,omitempty"` // condition was false; counted as passed
	Remediation  string       `json:"remediation,omitempty"`
	FailureClass FailureClass `json:"failure_class,omitempty"`
	Details      []string     `json:"details,omitempty"` // per-check failure messages
}

// Facts is the read-only context a gate condition can inspect:
// command, dry_run, profile.
type Facts map[string]any

// Prober runs a single check descriptor against the environment. The default
// implementation inspects the filesystem and PATH; tests substitute fakes.
type Prober interface {
	Check(def schema.CheckDef) (passed bool, detail string, err error)
}

// Evaluator evaluates gate definitions using an injected Prober.
type Evaluator struct {
	defs   map[string]schema.GateDef
	order  []string
	prober Prober
}

// NewEvaluator builds an evaluator over the declarative gate definitions.
// A nil prober defaults to the filesystem prober.
func NewEvaluator(defs []schema.GateDef, prober Prober) *Evaluator {
	if prober == nil {
		prober = &FSProber{}
	}
	m := make(map[string]schema.GateDef, len(defs))
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		m[d.Name] = d
		order = append(order, d.Name)
	}
	return &Evaluator{defs: m, order: order, prober: prober}
}

// Names returns the defined gate names in declaration order.
func (e *Evaluator) Names() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Evaluate runs one named gate. Unknown gate names are an error: gate
// vocabulary drift should surface, not pass silently.
func (e *Evaluator) Evaluate(name string, facts Facts) (Result, error) {
	def, ok := e.defs[name]
	if !ok {
		return Result{}, fmt.Errorf("unknown gate %q", name)
	}
	return e.evaluate(def, facts)
}

// EvaluateAll evaluates every named gate regardless of earlier failures.
func (e *Evaluator) EvaluateAll(names []string, facts Facts) ([]Result, error) {
	results := make([]Result, 0, len(names))
	for _, name := range names {
		r, err := e.Evaluate(name, facts)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// EvaluateDefined evaluates all defined gates in declaration order.
func (e *Evaluator) EvaluateDefined(facts Facts) ([]Result, error) {
	return e.EvaluateAll(e.order, facts)
}

func (e *Evaluator) evaluate(def schema.GateDef, facts Facts) (Result, error) {
	r := Result{
		GateName:     def.Name,
		Remediation:  def.Remediation,
		FailureClass: failureClass(def.FailureClass),
	}

	applies, err := evalCondition(def.When, facts)
	if err != nil {
		return Result{}, fmt.Errorf("gate %q condition: %w", def.Name, err)
	}
	if !applies {
		r.Passed = true
		r.Skipped = true
		return r, nil
	}

	r.Passed = true
	for _, ck := range def.Checks {
		passed, detail, err := e.prober.Check(ck)
		if err != nil {
			return Result{}, fmt.Errorf("gate %q check %q: %w", def.Name, ck.Kind, err)
		}
		if !passed {
			r.Passed = false
			if detail != "" {
				r.Details = append(r.Details, detail)
			}
		}
	}
	return r, nil
}

// Failed filters a result list down to the gates that failed.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// HasFatal reports whether any failed gate is classed fatal.
func HasFatal(results []Result) bool {
	for _, r := range results {
		if !r.Passed && r.FailureClass == Fatal {
			return true
		}
	}
	return false
}

func failureClass(s string) FailureClass {
	if s == string(Fatal) {
		return Fatal
	}
	return Recoverable
}

// evalCondition evaluates an expr condition against the fact map.
// An empty condition is always true.
func evalCondition(exprStr string, facts Facts) (bool, error) {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return true, nil
	}
	env := map[string]any(facts)
	if env == nil {
		env = map[string]any{}
	}
	program, err := expr.Compile(exprStr, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", exprStr, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", exprStr, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", exprStr, output, output)
	}
	return result, nil
}
