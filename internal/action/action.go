package action

import (
	"context"
	"fmt"

	"github.com/metalab-io/moshpit/internal/artifact"
	"github.com/metalab-io/moshpit/internal/invoke"
	"github.com/metalab-io/moshpit/internal/logger"
	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

// Port declares one input or output artifact slot of an action.
type Port struct {
	Name  string
	Types []artifact.Type
	Help  string
}

// ParamKind enumerates the scalar kinds an action parameter can take.
type ParamKind string

const (
	ParamString  ParamKind = "string"
	ParamInt     ParamKind = "int"
	ParamFloat   ParamKind = "float"
	ParamBool    ParamKind = "bool"
	ParamStrings ParamKind = "strings"
)

// ParamSpec declares one parameter of an action: its kind, default value and
// help text. Raw values from CLI flags or pipeline configs are coerced
// against the spec before the action's typed parameter struct is populated.
type ParamSpec struct {
	Name    string
	Kind    ParamKind
	Default string
	Help    string
}

// Metadata describes an action: its identity, artifact ports, parameters
// and the external binaries it drives.
type Metadata struct {
	Name        string
	Description string
	Inputs      []Port
	Outputs     []Port
	Params      []ParamSpec
	Tools       []string
}

// Request carries everything one action invocation needs. Inputs are loaded
// artifacts keyed by port name; OutputPaths name the directories where the
// action materializes its output artifacts on success.
type Request struct {
	Inputs      map[string]*artifact.Artifact
	OutputPaths map[string]string
	Params      map[string]string
	Runner      invoke.Runner
	Log         *logger.Logger
}

// Result carries the artifacts an action produced.
type Result struct {
	Outputs map[string]*artifact.Artifact
	Summary string
}

// Action is the contract every wrapped tool satisfies: stage inputs, invoke
// the external binary, collect its outputs into typed artifacts. Execution
// is strictly sequential within one invocation and never retried.
type Action interface {
	Metadata() Metadata
	Run(ctx context.Context, req *Request) (*Result, error)
}

// Input returns the named input artifact, checking that it was supplied.
func (r *Request) Input(name string) (*artifact.Artifact, error) {
	a, ok := r.Inputs[name]
	if !ok || a == nil {
		return nil, moshpiterrors.NewValidationError(name, "required input artifact not provided", nil)
	}
	return a, nil
}

// NewOutput creates the named output artifact. Actions call this only after
// the external tool succeeded and its output was collected, so a failed run
// leaves no artifact behind.
func (r *Request) NewOutput(name string, t artifact.Type) (*artifact.Artifact, error) {
	path, ok := r.OutputPaths[name]
	if !ok || path == "" {
		return nil, moshpiterrors.NewValidationError(name, "no output path provided", nil)
	}

	a, err := artifact.New(path, t)
	if err != nil {
		return nil, fmt.Errorf("cannot create output artifact %q: %w", name, err)
	}
	return a, nil
}
