package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const usernameTag = "identity_username"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

type ValidationResult struct {
	Valid  bool
	Errors []string
}

type identityFields struct {
	Username string `validate:"required,identity_username"`
	Email    string `validate:"required,email"`
}

type groupFields struct {
	Name string `validate:"required"`
}

// Validator checks mapped records before they are matched or persisted.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	validate := validator.New()
	_ = validate.RegisterValidation(usernameTag, func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return &Validator{validate: validate}
}

// Validate checks the identity rules plus any required destinations.
func (v *Validator) Validate(record MappedRecord, required []string) ValidationResult {
	if v == nil || v.validate == nil {
		v = NewValidator()
	}
	fields := identityFields{
		Username: record.String("username"),
		Email:    record.String("email"),
	}
	messages := v.structMessages(fields, map[string]string{
		"Username": "username",
		"Email":    "email",
	})
	messages = append(messages, requiredMessages(record, required, "username", "email")...)
	return ValidationResult{Valid: len(messages) == 0, Errors: messages}
}

func (v *Validator) ValidateGroup(record MappedRecord, required []string) ValidationResult {
	if v == nil || v.validate == nil {
		v = NewValidator()
	}
	messages := v.structMessages(groupFields{Name: record.String("name")}, map[string]string{"Name": "name"})
	messages = append(messages, requiredMessages(record, required, "name")...)
	return ValidationResult{Valid: len(messages) == 0, Errors: messages}
}

func (v *Validator) structMessages(value any, names map[string]string) []string {
	err := v.validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		name := names[fieldErr.Field()]
		if name == "" {
			name = strings.ToLower(fieldErr.Field())
		}
		messages = append(messages, validationMessage(name, fieldErr.Tag()))
	}
	return messages
}

func validationMessage(field string, tag string) string {
	switch tag {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case usernameTag:
		return field + " may only contain letters, digits, '.', '_' and '-'"
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}

func requiredMessages(record MappedRecord, required []string, skip ...string) []string {
	var messages []string
	seen := map[string]struct{}{}
	for _, name := range skip {
		seen[name] = struct{}{}
	}
	for _, destination := range required {
		destination = normalizePath(destination)
		if destination == "" {
			continue
		}
		if _, ok := seen[destination]; ok {
			continue
		}
		seen[destination] = struct{}{}
		if !hasValue(record, destination) {
			messages = append(messages, destination+" is required")
		}
	}
	return messages
}

func hasValue(record MappedRecord, path string) bool {
	value, ok := lookupPathValue(record, path)
	if !ok {
		return false
	}
	return !isEmptyValue(value)
}

func isEmptyValue(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case map[string]any:
		return len(typed) == 0
	case []any:
		return len(typed) == 0
	default:
		return false
	}
}
