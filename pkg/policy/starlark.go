package policy

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator executes Starlark rule scripts safely.
//
// A rule script defines a function `violations(input)` that receives the
// evaluation input as a dict and returns a list of violation dicts with
// "message" and optional "resource", "severity", and "remediation" keys.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// EvaluateRule executes a Starlark policy against the input.
func (se *StarlarkEvaluator) EvaluateRule(ctx context.Context, p *Policy, input *Input) ([]Violation, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	resultCh := make(chan []Violation, 1)
	errCh := make(chan error, 1)

	go func() {
		violations, err := se.evaluateSync(p, input)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- violations
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("starlark rule %s timed out after %v", p.Name, se.timeout)
	case err := <-errCh:
		return nil, err
	case violations := <-resultCh:
		return violations, nil
	}
}

// evaluateSync performs the actual Starlark evaluation synchronously.
func (se *StarlarkEvaluator) evaluateSync(p *Policy, input *Input) ([]Violation, error) {
	thread := &starlark.Thread{
		Name: "plangate",
		Print: func(_ *starlark.Thread, msg string) {
			// Rule scripts must not write to the gate's output.
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	globals, err := starlark.ExecFile(thread, p.Name+".star", p.Source, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	fn, ok := globals["violations"]
	if !ok {
		return nil, fmt.Errorf("starlark rule %s does not define violations(input)", p.Name)
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("starlark rule %s: violations is not callable", p.Name)
	}

	inputMap, err := inputToMap(input)
	if err != nil {
		return nil, err
	}
	starlarkInput, err := toStarlarkValue(inputMap)
	if err != nil {
		return nil, fmt.Errorf("failed to convert input: %w", err)
	}

	raw, err := starlark.Call(thread, callable, starlark.Tuple{starlarkInput}, nil)
	if err != nil {
		return nil, fmt.Errorf("starlark rule %s failed: %w", p.Name, err)
	}

	return se.convertViolations(p, input, raw)
}

// convertViolations converts the script's return value into violations.
func (se *StarlarkEvaluator) convertViolations(p *Policy, input *Input, raw starlark.Value) ([]Violation, error) {
	goVal, err := fromStarlarkValue(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert rule output: %w", err)
	}

	if goVal == nil {
		return nil, nil
	}
	items, ok := goVal.([]interface{})
	if !ok {
		return nil, fmt.Errorf("starlark rule %s must return a list, got %T", p.Name, goVal)
	}

	violations := make([]Violation, 0, len(items))
	for _, item := range items {
		violations = append(violations, makeViolation(p, item, input))
	}
	return violations, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i := range val {
			item, err := fromStarlarkValue(val[i])
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
