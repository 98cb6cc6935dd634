// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// CodeValidation is the API error code for rejected request payloads.
const CodeValidation = "validation_error"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// realmPattern matches realm names accepted by the identity provider.
var realmPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// LoginRequest is the payload of the login form.
type LoginRequest struct {
	Realm    string `validate:"omitempty,max=255,realm"`
	Username string `validate:"required_with=Password,max=150"`
	Password string `validate:"required_with=Username,max=4096"`
}

// HasCredentials reports whether the form carries a username and password.
func (r LoginRequest) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}

// TokenRequest is the payload of the token endpoints.
type TokenRequest struct {
	Username string `validate:"omitempty,max=150"`
}

// MembershipRequest names a user and the realm whose membership changes.
type MembershipRequest struct {
	Realm    string `validate:"required,max=255,realm"`
	Username string `validate:"required,max=150"`
}

// ValidationError is a single field failure.
type ValidationError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the struct field name that failed validation.
func (e *ValidationError) Field() string {
	return e.field
}

// Tag returns the validation tag that failed.
func (e *ValidationError) Tag() string {
	return e.tag
}

// Param returns the parameter for the validation tag (e.g., "150" for "max=150").
func (e *ValidationError) Param() string {
	return e.param
}

func (e *ValidationError) Error() string {
	return e.message
}

// RequestValidationError collects every field failure of one payload.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the slice of validation errors.
func (ve *RequestValidationError) Errors() []ValidationError {
	return ve.errors
}

func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.errors))
	for i := range ve.errors {
		messages = append(messages, ve.errors[i].Error())
	}
	return strings.Join(messages, "; ")
}

// APIError is the response body shape shared with the HTTP layer.
type APIError struct {
	Code    string
	Message string
	Fields  []string
}

// ToAPIError converts the failures to an API error. Submitted values are
// never echoed because they may carry passwords.
func (ve *RequestValidationError) ToAPIError() *APIError {
	apiErr := &APIError{Code: CodeValidation, Message: ve.Error()}
	if len(ve.errors) == 0 {
		apiErr.Message = "Validation failed"
		return apiErr
	}
	for i := range ve.errors {
		apiErr.Fields = append(apiErr.Fields, ve.errors[i].field)
	}
	return apiErr
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Registration only fails for an empty tag or nil function.
		_ = validate.RegisterValidation("realm", func(fl validator.FieldLevel) bool {
			return realmPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateStruct validates s with the singleton validator. It returns nil
// when s is valid.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{
			errors: []ValidationError{{field: "unknown", tag: "unknown", message: err.Error()}},
		}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fe := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			message: translateError(fe),
		}
	}
	return &RequestValidationError{errors: fieldErrors}
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"realm":    "%s is not a valid realm name",
}

var errorMessageWithParam = map[string]string{
	"required_with": "%s is required together with %s",
	"oneof":         "%s must be one of: %s",
}

func translateError(fe validator.FieldError) string {
	field := fe.Field()
	if template, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(template, field, fe.Param())
	}
	switch fe.Tag() {
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
