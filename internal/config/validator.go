package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern     = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	stepIDPattern     = regexp.MustCompile(`^[a-z0-9_]+$`)
	actionNamePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("step_id", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("action_name", func(fl validator.FieldLevel) bool {
			return actionNamePattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// ValidateConfig performs schema and cross-field validation on the
// pipeline document.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return moshpiterrors.NewValidationError("config", "pipeline configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	stepIndex := make(map[string]int, len(cfg.Steps))
	for i, step := range cfg.Steps {
		if _, exists := stepIndex[step.ID]; exists {
			return moshpiterrors.NewValidationError(fieldForStep(i, "id"), fmt.Sprintf("duplicate step id %q", step.ID), nil)
		}
		stepIndex[step.ID] = i
	}

	for i, step := range cfg.Steps {
		for _, dep := range step.Dependencies() {
			if dep == step.ID {
				return moshpiterrors.NewValidationError(fieldForStep(i, "depends_on"), "step depends on itself", nil)
			}
			if _, ok := stepIndex[dep]; !ok {
				return moshpiterrors.NewValidationError(fieldForStep(i, "depends_on"), fmt.Sprintf("references unknown step %q", dep), nil)
			}
		}

		for name, value := range step.Inputs {
			refStep, port, ok := InputRef(value)
			if !ok {
				continue
			}
			target, exists := stepIndex[refStep]
			if !exists {
				return moshpiterrors.NewValidationError(fieldForStep(i, "inputs."+name),
					fmt.Sprintf("references unknown step %q", refStep), nil)
			}
			if _, produced := cfg.Steps[target].Outputs[port]; !produced {
				return moshpiterrors.NewValidationError(fieldForStep(i, "inputs."+name),
					fmt.Sprintf("step %q has no output %q", refStep, port), nil)
			}
		}
	}

	if cycle := detectCycle(cfg.Steps); len(cycle) > 0 {
		return moshpiterrors.NewValidationError("steps", fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")), nil)
	}

	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return moshpiterrors.NewValidationError(field, msg, err)
	}

	return moshpiterrors.NewValidationError("config", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldForStep(index int, field string) string {
	return fmt.Sprintf("steps[%d].%s", index, field)
}
