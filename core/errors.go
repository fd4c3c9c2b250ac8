package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ImportErrorBadInput               = "IMPORT_BAD_INPUT"
	ImportErrorConnectionNotFound     = "IMPORT_CONNECTION_NOT_FOUND"
	ImportErrorTaskNotFound           = "IMPORT_TASK_NOT_FOUND"
	ImportErrorConnectionBusy         = "IMPORT_CONNECTION_BUSY"
	ImportErrorTaskTransitionInvalid  = "IMPORT_TASK_TRANSITION_INVALID"
	ImportErrorAuthFailed             = "IMPORT_AUTH_FAILED"
	ImportErrorFetchFailed            = "IMPORT_FETCH_FAILED"
	ImportErrorSourceUnsupported      = "IMPORT_SOURCE_UNSUPPORTED"
	ImportErrorValidationFailed       = "IMPORT_VALIDATION_FAILED"
	ImportErrorPersistenceFailed      = "IMPORT_PERSISTENCE_FAILED"
	ImportErrorTransformInvalid       = "IMPORT_TRANSFORM_INVALID"
	ImportErrorQueueUnavailable       = "IMPORT_QUEUE_UNAVAILABLE"
	ImportErrorRateLimited            = "IMPORT_RATE_LIMITED"
	ImportErrorInternal               = "IMPORT_INTERNAL_ERROR"
	ImportErrorUnauthorized           = "IMPORT_UNAUTHORIZED"
	ImportErrorExternalFailure        = "IMPORT_EXTERNAL_FAILURE"
	ImportErrorCredentialsUnavailable = "IMPORT_CREDENTIALS_UNAVAILABLE"
)

type ImportErrorKind string

const (
	ImportErrorKindAuth        ImportErrorKind = "auth"
	ImportErrorKindFetch       ImportErrorKind = "fetch"
	ImportErrorKindValidation  ImportErrorKind = "validation"
	ImportErrorKindPersistence ImportErrorKind = "persistence"
	ImportErrorKindTransform   ImportErrorKind = "transform"
	ImportErrorKindInternal    ImportErrorKind = "internal"
)

// Fatal reports the blast radius of a kind: auth aborts the run, fetch aborts
// one pass, everything else only affects a single record.
func (k ImportErrorKind) Fatal() bool {
	return k == ImportErrorKindAuth || k == ImportErrorKindFetch
}

type ImportError struct {
	Kind        ImportErrorKind
	Pass        ResourceType
	RecordIndex int
	Err         error
}

func NewImportError(kind ImportErrorKind, pass ResourceType, err error) *ImportError {
	return &ImportError{Kind: kind, Pass: pass, Err: err}
}

func (e *ImportError) Error() string {
	if e == nil {
		return ""
	}
	cause := "unknown error"
	if e.Err != nil {
		cause = e.Err.Error()
	}
	prefix := string(e.Kind) + " error"
	if e.Pass != "" {
		prefix = fmt.Sprintf("%s (%s)", prefix, e.Pass)
	}
	if e.RecordIndex > 0 {
		prefix = fmt.Sprintf("%s at record %d", prefix, e.RecordIndex)
	}
	return prefix + ": " + cause
}

func (e *ImportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ImportError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	category, textCode := importKindCategory(e.Kind)
	if e.Kind == ImportErrorKindFetch {
		switch cause := causeTextCode(e.Err); cause {
		case ImportErrorSourceUnsupported:
			textCode = cause
		case ImportErrorRateLimited:
			category, textCode = goerrors.CategoryRateLimit, cause
		}
	}
	metadata := map[string]any{"kind": string(e.Kind)}
	if e.Pass != "" {
		metadata["pass"] = string(e.Pass)
	}
	if e.RecordIndex > 0 {
		metadata["record_index"] = e.RecordIndex
	}
	return goerrors.New(e.Error(), category).
		WithCode(serviceHTTPStatus(category)).
		WithTextCode(textCode).
		WithMetadata(metadata)
}

// causeTextCode reads the text code carried by a wrapped rich error.
func causeTextCode(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return strings.TrimSpace(richErr.TextCode)
	}
	var mapper interface{ ToServiceError() *goerrors.Error }
	if errors.As(err, &mapper) {
		if mapped := mapper.ToServiceError(); mapped != nil {
			return strings.TrimSpace(mapped.TextCode)
		}
	}
	return ""
}

func importKindCategory(kind ImportErrorKind) (goerrors.Category, string) {
	switch kind {
	case ImportErrorKindAuth:
		return goerrors.CategoryAuth, ImportErrorAuthFailed
	case ImportErrorKindFetch:
		return goerrors.CategoryExternal, ImportErrorFetchFailed
	case ImportErrorKindValidation:
		return goerrors.CategoryValidation, ImportErrorValidationFailed
	case ImportErrorKindPersistence:
		return goerrors.CategoryInternal, ImportErrorPersistenceFailed
	case ImportErrorKindTransform:
		return goerrors.CategoryBadInput, ImportErrorTransformInvalid
	default:
		return goerrors.CategoryInternal, ImportErrorInternal
	}
}

// ClassifyImportError resolves the taxonomy kind of err, falling back to the
// rich error category when err is not an *ImportError.
func ClassifyImportError(err error) ImportErrorKind {
	if err == nil {
		return ""
	}
	var importErr *ImportError
	if errors.As(err, &importErr) && importErr.Kind != "" {
		return importErr.Kind
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return ImportErrorKindAuth
		case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
			return ImportErrorKindFetch
		case goerrors.CategoryValidation:
			return ImportErrorKindValidation
		}
		switch strings.TrimSpace(richErr.TextCode) {
		case ImportErrorAuthFailed, ImportErrorUnauthorized, ImportErrorCredentialsUnavailable:
			return ImportErrorKindAuth
		case ImportErrorFetchFailed, ImportErrorSourceUnsupported, ImportErrorExternalFailure:
			return ImportErrorKindFetch
		}
	}
	return ImportErrorKindInternal
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var importErr *ImportError
	if errors.As(err, &importErr) {
		return importErr.ToServiceError()
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrConnectionNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ImportErrorConnectionNotFound)
	case errors.Is(err, ErrImportTaskNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ImportErrorTaskNotFound)
	case errors.Is(err, ErrConnectionLeaseHeld):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ImportErrorConnectionBusy)
	case errors.Is(err, ErrInvalidImportTaskTransition):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ImportErrorTaskTransitionInvalid)
	case errors.Is(err, ErrImportQueueNotConfigured):
		return newServiceError(err.Error(), goerrors.CategoryInternal, ImportErrorQueueUnavailable)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ImportErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ImportErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

// MapError converts any error returned by the service into the rich envelope
// used by transports.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return ImportErrorBadInput
	case goerrors.CategoryValidation:
		return ImportErrorValidationFailed
	case goerrors.CategoryNotFound:
		return ImportErrorConnectionNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ImportErrorUnauthorized
	case goerrors.CategoryConflict:
		return ImportErrorConnectionBusy
	case goerrors.CategoryRateLimit:
		return ImportErrorRateLimited
	case goerrors.CategoryExternal:
		return ImportErrorExternalFailure
	default:
		return ImportErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func validationError(field string, message string) error {
	return goerrors.NewValidation("core: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ImportErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}
