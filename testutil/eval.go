package testutil

import (
	"context"

	"github.com/c360/kernelkit/eval"
)

// EvalFunc adapts a function to the eval.Evaluator interface.
type EvalFunc func(ctx context.Context, code string, io eval.IO) (*eval.Result, error)

// Evaluate implements eval.Evaluator.
func (f EvalFunc) Evaluate(ctx context.Context, code string, io eval.IO) (*eval.Result, error) {
	return f(ctx, code, io)
}

// TextResult builds a successful result rendering value as text/plain.
func TextResult(value string) *eval.Result {
	return &eval.Result{
		Data:     map[string]any{"text/plain": value},
		Metadata: map[string]any{},
	}
}

// FailureResult builds a result describing failed code.
func FailureResult(name, value string, traceback ...string) *eval.Result {
	return &eval.Result{
		Failure: &eval.Failure{Name: name, Value: value, Traceback: traceback},
	}
}

// ScriptedEvaluator returns canned results per code string. Unscripted
// code evaluates to no displayable value.
type ScriptedEvaluator struct {
	Script map[string]*eval.Result
	// Calls records the code blocks evaluated, in order.
	Calls []string
}

// Evaluate implements eval.Evaluator.
func (s *ScriptedEvaluator) Evaluate(_ context.Context, code string, _ eval.IO) (*eval.Result, error) {
	s.Calls = append(s.Calls, code)
	if r, ok := s.Script[code]; ok {
		return r, nil
	}
	return &eval.Result{}, nil
}
