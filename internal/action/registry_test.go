package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubAction struct {
	name string
}

func (a *stubAction) Metadata() Metadata {
	return Metadata{Name: a.name}
}

func (a *stubAction) Run(ctx context.Context, req *Request) (*Result, error) {
	return &Result{}, nil
}

func TestRegisterAndGet(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	require.NoError(t, Register(&stubAction{name: "classify-kraken2"}))

	a, err := Get("classify-kraken2")
	require.NoError(t, err)
	require.Equal(t, "classify-kraken2", a.Metadata().Name)

	_, err = Get("unknown-action")
	require.Error(t, err)
}

func TestRegisterRejectsDuplicatesAndNil(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	require.NoError(t, Register(&stubAction{name: "evaluate-busco"}))
	require.Error(t, Register(&stubAction{name: "evaluate-busco"}))
	require.Error(t, Register(nil))
	require.Error(t, Register(&stubAction{}))
}

func TestListIsSorted(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	require.NoError(t, Register(&stubAction{name: "predict-genes-prodigal"}))
	require.NoError(t, Register(&stubAction{name: "bin-contigs-metabat"}))

	actions := List()
	require.Len(t, actions, 2)
	require.Equal(t, "bin-contigs-metabat", actions[0].Metadata().Name)
	require.Equal(t, "predict-genes-prodigal", actions[1].Metadata().Name)
}
