package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"newsline/internal/types"
)

// Validator wraps go-playground/validator to translate struct tag violations
// into structured AppErrors suitable for API responses.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator. Violations are reported under the
// field's json tag name so error messages match the wire format.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &Validator{
		validate: v,
	}
}

// ValidateStruct validates the given struct against its `validate` tags.
// It returns a *types.AppError (400) describing the first set of violations,
// or nil if the struct is valid.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid validation target", err)
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	first := verrs[0]
	field := first.Field()

	switch first.Tag() {
	case "required":
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			field+" is required",
			err,
			map[string]any{"field": field},
		)
	case "email":
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidEmail,
			field+" must be a valid email address",
			err,
			map[string]any{"field": field},
		)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidJSON,
			field+" failed validation rule "+first.Tag(),
			err,
			map[string]any{"field": field, "rule": first.Tag()},
		)
	}
}
