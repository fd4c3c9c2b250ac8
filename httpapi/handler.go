package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity-sync/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/gorilla/mux"
)

const maxRequestBodyBytes = 1 << 20

// Handler serves the import endpoints.
type Handler struct {
	service  core.ImportService
	validate *validator.Validate
	logger   core.Logger
}

type Option func(*Handler)

func WithLogger(logger core.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(service core.ImportService, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("httpapi: import service is required")
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	h := &Handler{
		service:  service,
		validate: validate,
		logger:   glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// NewRouter returns a router with the import endpoints registered.
func NewRouter(service core.ImportService, opts ...Option) (*mux.Router, error) {
	h, err := NewHandler(service, opts...)
	if err != nil {
		return nil, err
	}
	router := mux.NewRouter()
	h.Register(router)
	return router, nil
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/connections/{id}/import", h.TriggerImport).Methods(http.MethodPost)
	r.HandleFunc("/connections/{id}/preview", h.PreviewImport).Methods(http.MethodPost)
	r.HandleFunc("/connections/{id}/status", h.ConnectionStatus).Methods(http.MethodGet)
	r.HandleFunc("/connections/{id}/tasks", h.ListTasks).Methods(http.MethodGet)
	r.HandleFunc("/connections/{id}", h.SaveConnection).Methods(http.MethodPut)
	r.HandleFunc("/tasks/{id}", h.GetTask).Methods(http.MethodGet)
}

func (h *Handler) TriggerImport(w http.ResponseWriter, r *http.Request) {
	var req triggerImportRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.TriggerImport(r.Context(), req.toCore(pathID(r)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if result.DryRun {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handler) PreviewImport(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.PreviewImport(r.Context(), core.PreviewRequest{
		ConnectionID: pathID(r),
		TaskType:     core.ImportTaskType(strings.TrimSpace(req.TaskType)),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetConnectionStatus(r.Context(), pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, r, badRequest("httpapi: invalid limit", goerrors.FieldError{
				Field:   "limit",
				Message: "must be a non-negative integer",
			}))
			return
		}
		limit = parsed
	}
	tasks, err := h.service.ListImportTasks(r.Context(), pathID(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, newTaskResponse(task))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.GetImportTask(r.Context(), pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(task))
}

func (h *Handler) SaveConnection(w http.ResponseWriter, r *http.Request) {
	var req saveConnectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	saved, err := h.service.SaveConnection(r.Context(), req.toCore(pathID(r)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConnectionResponse(saved))
}

// decode reads an optional JSON body into dst and validates it. An empty body
// leaves dst at its zero value.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, badRequest("httpapi: invalid json body: "+err.Error()))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, requestValidationError(err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rich := core.MapError(err)
	if rich == nil {
		rich = core.MapError(fmt.Errorf("httpapi: unknown error"))
	}
	if rich.Code >= http.StatusInternalServerError && h.logger != nil {
		h.logger.WithContext(r.Context()).Error("import request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"text_code", rich.TextCode,
			"error", err.Error(),
		)
	}
	writeJSON(w, rich.Code, errorEnvelopeFrom(rich))
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(mux.Vars(r)["id"])
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}
