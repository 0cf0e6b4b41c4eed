package action

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// CoerceParams converts raw string parameter values into typed values per
// the action's declared specs. Unknown keys are rejected; declared params
// without a raw value fall back to their defaults.
func CoerceParams(specs []ParamSpec, raw map[string]string) (map[string]any, error) {
	specIndex := make(map[string]ParamSpec, len(specs))
	for _, spec := range specs {
		specIndex[spec.Name] = spec
	}

	for key := range raw {
		if _, ok := specIndex[key]; !ok {
			return nil, moshpiterrors.NewValidationError(key, "unknown parameter", nil)
		}
	}

	values := make(map[string]any, len(specs))
	for _, spec := range specs {
		text, supplied := raw[spec.Name]
		if !supplied {
			if spec.Default == "" {
				continue
			}
			text = spec.Default
		}

		value, err := coerceValue(spec.Kind, text)
		if err != nil {
			return nil, moshpiterrors.NewValidationError(spec.Name, err.Error(), err)
		}
		values[spec.Name] = value
	}
	return values, nil
}

func coerceValue(kind ParamKind, text string) (any, error) {
	switch kind {
	case ParamString:
		return text, nil
	case ParamInt:
		v, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", text)
		}
		return v, nil
	case ParamFloat:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", text)
		}
		return v, nil
	case ParamBool:
		v, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", text)
		}
		return v, nil
	case ParamStrings:
		parts := strings.Split(text, ",")
		values := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				values = append(values, trimmed)
			}
		}
		return values, nil
	default:
		return nil, fmt.Errorf("unsupported parameter kind %q", kind)
	}
}

// DecodeParams populates the action's typed parameter struct from coerced
// values and validates it against its struct tags.
func DecodeParams(values map[string]any, out any) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return moshpiterrors.NewValidationError("params", err.Error(), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return moshpiterrors.NewValidationError("params", err.Error(), err)
	}

	if err := validatorInstance().Struct(out); err != nil {
		return convertValidationError(err)
	}
	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := strings.ToLower(ve.StructNamespace())
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return moshpiterrors.NewValidationError(field, msg, err)
	}

	return moshpiterrors.NewValidationError("params", err.Error(), err)
}
