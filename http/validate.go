package http

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var allowedMethods = []string{
	nethttp.MethodGet,
	nethttp.MethodPost,
	nethttp.MethodPut,
	nethttp.MethodDelete,
	nethttp.MethodOptions,
	nethttp.MethodHead,
	nethttp.MethodPatch,
}

// specValidator wraps go-playground/validator with the CallSpec rules.
type specValidator struct {
	validate *validator.Validate
}

func newSpecValidator() *specValidator {
	v := validator.New()
	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("httpmethod", validateMethod)
	return &specValidator{validate: v}
}

// Validate checks spec and returns a *ValidationError listing every field
// that failed.
func (v *specValidator) Validate(spec *CallSpec) error {
	if spec == nil {
		return &ValidationError{Errors: []FieldError{{Field: "CallSpec", Message: "CallSpec is required"}}}
	}
	if err := v.validate.Struct(spec); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return newValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError lists the CallSpec fields that failed validation.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is a validation failure of a single field.
type FieldError struct {
	Field   string
	Message string
	Value   string
}

func newValidationError(errs validator.ValidationErrors) *ValidationError {
	fieldErrors := make([]FieldError, 0, len(errs))
	for _, err := range errs {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   err.Field(),
			Message: errorMessage(err),
			Value:   fmt.Sprintf("%v", err.Value()),
		})
	}
	return &ValidationError{Errors: fieldErrors}
}

func (ve *ValidationError) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("validation failed: %s", ve.Errors[0].Message)
	}
	messages := make([]string, 0, len(ve.Errors))
	for _, fe := range ve.Errors {
		messages = append(messages, fe.Message)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must not be negative", fe.Field())
	case "httpmethod":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), strings.Join(allowedMethods, ", "))
	default:
		return fmt.Sprintf("%s failed validation", fe.Field())
	}
}

func validateMethod(fl validator.FieldLevel) bool {
	return slices.Contains(allowedMethods, strings.ToUpper(fl.Field().String()))
}
