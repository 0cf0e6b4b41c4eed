package action

import (
	"testing"

	"github.com/stretchr/testify/require"

	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

var classifySpecs = []ParamSpec{
	{Name: "threads", Kind: ParamInt, Default: "1"},
	{Name: "confidence", Kind: ParamFloat, Default: "0.0"},
	{Name: "quick", Kind: ParamBool, Default: "false"},
	{Name: "level", Kind: ParamString, Default: "S"},
	{Name: "libraries", Kind: ParamStrings},
}

type classifyParams struct {
	Threads    int      `yaml:"threads" validate:"min=1,max=256"`
	Confidence float64  `yaml:"confidence" validate:"min=0,max=1"`
	Quick      bool     `yaml:"quick"`
	Level      string   `yaml:"level" validate:"oneof=D P C O F G S"`
	Libraries  []string `yaml:"libraries"`
}

func TestCoerceParamsAppliesDefaults(t *testing.T) {
	values, err := CoerceParams(classifySpecs, nil)
	require.NoError(t, err)
	require.Equal(t, 1, values["threads"])
	require.Equal(t, 0.0, values["confidence"])
	require.Equal(t, false, values["quick"])
	require.NotContains(t, values, "libraries")
}

func TestCoerceParamsRejectsUnknownKeys(t *testing.T) {
	_, err := CoerceParams(classifySpecs, map[string]string{"thread": "4"})
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, "thread", valErr.Field)
}

func TestCoerceParamsRejectsBadScalars(t *testing.T) {
	_, err := CoerceParams(classifySpecs, map[string]string{"threads": "lots"})
	require.Error(t, err)

	_, err = CoerceParams(classifySpecs, map[string]string{"quick": "yep"})
	require.Error(t, err)
}

func TestCoerceParamsSplitsStringLists(t *testing.T) {
	values, err := CoerceParams(classifySpecs, map[string]string{"libraries": "archaea, viral ,"})
	require.NoError(t, err)
	require.Equal(t, []string{"archaea", "viral"}, values["libraries"])
}

func TestDecodeParamsPopulatesAndValidates(t *testing.T) {
	values, err := CoerceParams(classifySpecs, map[string]string{
		"threads":    "8",
		"confidence": "0.5",
		"quick":      "true",
	})
	require.NoError(t, err)

	var params classifyParams
	require.NoError(t, DecodeParams(values, &params))
	require.Equal(t, 8, params.Threads)
	require.Equal(t, 0.5, params.Confidence)
	require.True(t, params.Quick)
	require.Equal(t, "S", params.Level)
}

func TestDecodeParamsSurfacesTagFailures(t *testing.T) {
	values, err := CoerceParams(classifySpecs, map[string]string{"level": "X"})
	require.NoError(t, err)

	var params classifyParams
	err = DecodeParams(values, &params)
	var valErr *moshpiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Contains(t, valErr.Message, "oneof")
}
