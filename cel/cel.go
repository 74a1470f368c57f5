// Package cel wraps google/cel-go for evaluating maintenance-task conditions
// against the variables injected into a sandbox run.
package cel

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Evaluator contains the CEL expression & the cel program used to evaluate the
// expression vs. input variables.
type Evaluator struct {
	Expression string
	program    cel.Program
}

// NewEvaluator instantiates a CEL evaluator for a maintenance-task condition.
// The expression is evaluated against the sandbox run's variables: "upgrade"
// (bool), "database" (string), "isSystem" (bool), "currentVersion" and
// "targetVersion" (int) and is expected to produce a bool.
func NewEvaluator(name string, expression string) (*Evaluator, error) {
	if name == "" {
		return nil, fmt.Errorf("name can't be empty string")
	}
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		cel.Variable("upgrade", cel.BoolType),
		cel.Variable("database", cel.StringType),
		cel.Variable("isSystem", cel.BoolType),
		cel.Variable("currentVersion", cel.IntType),
		cel.Variable("targetVersion", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %v", err)
	}
	return &Evaluator{
		Expression: expression,
		program:    p,
	}, nil
}

// Evaluate runs the CEL expression against the provided variables.
func (e *Evaluator) Evaluate(vars map[string]any) (bool, error) {
	out, _, err := e.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(true))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}
	if v, ok := nv.(bool); !ok {
		return false, fmt.Errorf("error converting to bool, nv: %v", nv)
	} else {
		return v, nil
	}
}
