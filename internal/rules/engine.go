// Package rules evaluates catalog rule conditions against a fact context.
//
// Conditions are CEL expressions, which gives rule authors comparisons,
// membership tests, boolean connectives and nested field access while keeping
// evaluation fully sandboxed: the expression can only see the supplied fact
// tree, never the file system, processes or network.
package rules

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/fleetcomply/fleetcomply/internal/models"
	"github.com/fleetcomply/fleetcomply/internal/observability/logging"
)

// EvalError reports that one rule's condition could not be evaluated against
// the given facts. It is recorded as a failed result with details and never
// propagated past the engine.
type EvalError struct {
	RuleID string
	Err    error
}

func (e *EvalError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("condition evaluation: %v", e.Err)
	}
	return fmt.Sprintf("rule %s: condition evaluation: %v", e.RuleID, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Engine runs rule conditions over fact contexts. It holds no per-scan state
// and is safe to use concurrently for different fact sets.
type Engine struct {
	log logging.Logger
}

// NewEngine returns an Engine logging through log (nil means noop).
func NewEngine(log logging.Logger) *Engine {
	if log == nil {
		log = logging.Noop()
	}
	return &Engine{log: log}
}

// newEnv declares the expression namespace for one fact context: the whole
// tree as "data" plus every top-level fact key bound directly, so both
// data.ssh.permit_root_login and ssh.permit_root_login resolve.
func newEnv(facts models.FactContext) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	}
	for k := range facts {
		if k == "data" {
			continue
		}
		opts = append(opts, cel.Variable(k, cel.DynType))
	}
	return cel.NewEnv(opts...)
}

func activation(facts models.FactContext) map[string]any {
	vars := map[string]any{"data": map[string]any(facts)}
	for k, v := range facts {
		if k == "data" {
			continue
		}
		vars[k] = v
	}
	return vars
}

// Evaluate runs one condition against facts and returns its boolean outcome.
// Any failure (malformed expression, missing key, non-boolean result) is
// returned as an *EvalError; Evaluate never panics into the caller.
func (e *Engine) Evaluate(condition string, facts models.FactContext) (bool, error) {
	env, err := newEnv(facts)
	if err != nil {
		return false, &EvalError{Err: err}
	}
	return evalInEnv(env, "", condition, facts)
}

func evalInEnv(env *cel.Env, ruleID, condition string, facts models.FactContext) (bool, error) {
	ast, issues := env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return false, &EvalError{RuleID: ruleID, Err: fmt.Errorf("compile: %w", issues.Err())}
	}

	prg, err := env.Program(ast)
	if err != nil {
		return false, &EvalError{RuleID: ruleID, Err: fmt.Errorf("program: %w", err)}
	}

	out, _, err := prg.Eval(activation(facts))
	if err != nil {
		return false, &EvalError{RuleID: ruleID, Err: err}
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return false, &EvalError{RuleID: ruleID, Err: fmt.Errorf("condition must return bool, got %T", out.Value())}
	}
	return passed, nil
}

// EvaluateAll evaluates every rule against facts, producing exactly one
// result per rule in input order. A rule whose condition cannot be evaluated
// is recorded as not passed with Details explaining why; it is never dropped
// and never treated as passed. All results share one evaluation timestamp.
func (e *Engine) EvaluateAll(defs []models.RuleDefinition, facts models.FactContext) []models.RuleResult {
	now := time.Now().UTC().Format(time.RFC3339)
	results := make([]models.RuleResult, 0, len(defs))

	env, envErr := newEnv(facts)

	for _, def := range defs {
		result := models.RuleResult{
			RuleID:      def.ID,
			Severity:    def.Severity,
			Description: def.Description,
			Tags:        def.Tags,
			Frameworks:  def.Frameworks,
			Timestamp:   now,
		}

		var passed bool
		var err error
		if envErr != nil {
			err = &EvalError{RuleID: def.ID, Err: envErr}
		} else {
			passed, err = evalInEnv(env, def.ID, def.Condition, facts)
		}

		if err != nil {
			result.Passed = false
			result.Details = fmt.Sprintf("rule evaluation error: %v", err)
			e.log.Warn("rules", "condition evaluation failed",
				"rule_id", def.ID, "error", err.Error())
		} else {
			result.Passed = passed
		}

		results = append(results, result)
	}

	return results
}
