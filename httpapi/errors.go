package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity-sync/core"
)

type errorEnvelope struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

type errorDetail struct {
	Code     int            `json:"code"`
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func errorEnvelopeFrom(rich *goerrors.Error) errorEnvelope {
	detail := errorDetail{
		Code:     rich.Code,
		TextCode: rich.TextCode,
		Message:  rich.Message,
	}
	metadata := core.RedactSensitiveMap(rich.Metadata)
	if fields := rich.AllValidationErrors(); len(fields) > 0 {
		out := make([]map[string]string, 0, len(fields))
		for _, field := range fields {
			out = append(out, map[string]string{"field": field.Field, "message": field.Message})
		}
		metadata["fields"] = out
	}
	if len(metadata) > 0 {
		detail.Metadata = metadata
	}
	return errorEnvelope{Success: false, Error: detail}
}

func badRequest(message string, fields ...goerrors.FieldError) error {
	if len(fields) == 0 {
		return goerrors.New(message, goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ImportErrorBadInput)
	}
	return goerrors.NewValidation(message, fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ImportErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

// requestValidationError turns validator field errors into one envelope keyed
// by the json field names.
func requestValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return badRequest("httpapi: invalid request: " + err.Error())
	}
	fields := make([]goerrors.FieldError, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		fields = append(fields, goerrors.FieldError{
			Field:   fieldPath(fieldErr.Namespace()),
			Message: fieldMessage(fieldErr),
		})
	}
	return badRequest("httpapi: invalid request", fields...)
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func fieldMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fieldErr.Param()
	case "url":
		return "must be an absolute url"
	case "min":
		return "must be at least " + fieldErr.Param()
	default:
		return "failed " + fieldErr.Tag() + " validation"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
