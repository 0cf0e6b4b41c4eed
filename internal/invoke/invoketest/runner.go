// Package invoketest provides a scripted Runner for action tests, so
// collectors can be exercised without real binaries on PATH.
package invoketest

import (
	"context"

	"github.com/metalab-io/moshpit/internal/invoke"
)

// FakeRunner records every invocation and delegates behavior to Handler.
// With a nil Handler every run succeeds with an empty result.
type FakeRunner struct {
	Calls   []invoke.Invocation
	Handler func(inv invoke.Invocation) (invoke.Result, error)
}

var _ invoke.Runner = (*FakeRunner)(nil)

// Run implements invoke.Runner.
func (f *FakeRunner) Run(ctx context.Context, inv invoke.Invocation) (invoke.Result, error) {
	f.Calls = append(f.Calls, inv)
	if f.Handler != nil {
		return f.Handler(inv)
	}
	return invoke.Result{}, nil
}

// Tools returns the tool names invoked, in call order.
func (f *FakeRunner) Tools() []string {
	tools := make([]string, len(f.Calls))
	for i, call := range f.Calls {
		tools[i] = call.Tool
	}
	return tools
}
