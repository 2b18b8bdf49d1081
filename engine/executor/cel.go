package executor

import (
	"context"
	"fmt"

	"github.com/compozy/autoflow/engine/core"
	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

const programCacheSize = 512

// ConditionEvaluator decides which branch a condition node takes.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error)
}

// CELEvaluator evaluates boolean CEL expressions with the execution context
// bound to the variable ctx. Compiled programs are kept in an LRU keyed by
// expression.
type CELEvaluator struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	programs, err := lru.New[string, cel.Program](programCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program cache: %w", err)
	}
	return &CELEvaluator{env: env, programs: programs}, nil
}

// Compile parses and type-checks an expression without evaluating it.
func (e *CELEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *CELEvaluator) Evaluate(ctx context.Context, expression string, data map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{"ctx": data})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation of %q failed: %w", expression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: CEL expression %q returned %s, want bool", core.ErrMalformedGraph, expression, out.Type())
	}
	return result, nil
}

func (e *CELEvaluator) program(expression string) (cel.Program, error) {
	if prg, ok := e.programs.Get(expression); ok {
		return prg, nil
	}
	ast, iss := e.env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: invalid CEL expression %q: %v", core.ErrMalformedGraph, expression, iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("%w: CEL expression %q has type %s, want bool", core.ErrMalformedGraph, expression, t)
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build CEL program %q: %v", core.ErrMalformedGraph, expression, err)
	}
	e.programs.Add(expression, prg)
	return prg, nil
}
