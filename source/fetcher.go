package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-identity-sync/core"
	"github.com/goliatone/go-identity-sync/ratelimit"
	"github.com/goliatone/go-identity-sync/transport"
)

// Config carries the shared fetch settings of every fetcher.
type Config struct {
	Transport        core.TransportAdapter
	Tokens           core.AuthTokenProvider
	Pacer            *ratelimit.Pacer
	PageSize         int
	MaxRecords       int
	RequestTimeout   time.Duration
	MaxResponseBytes int64
}

// ConfigFromFetch builds a fetcher config from the service fetch settings.
func ConfigFromFetch(cfg core.FetchConfig, tokens core.AuthTokenProvider, adapter core.TransportAdapter) Config {
	return Config{
		Transport:        adapter,
		Tokens:           tokens,
		Pacer:            ratelimit.NewPacer(cfg.MaxRetries, cfg.MaxWait()),
		PageSize:         cfg.PageSize,
		MaxRecords:       cfg.MaxRecords,
		RequestTimeout:   cfg.RequestTimeout(),
		MaxResponseBytes: cfg.MaxResponseBytes,
	}
}

func (c Config) normalized() Config {
	if c.Transport == nil {
		c.Transport = transport.NewRESTAdapter(nil)
	}
	if c.PageSize <= 0 {
		c.PageSize = core.DefaultPageSize
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = core.DefaultMaxRecords
	}
	return c
}

// recordCap resolves the effective record limit of a fetch.
func (c Config) recordCap(requested int) int {
	if requested > 0 && requested < c.MaxRecords {
		return requested
	}
	return c.MaxRecords
}

func (c Config) get(ctx context.Context, target string, headers map[string]string) (core.TransportResponse, error) {
	call := func(ctx context.Context) (core.TransportResponse, error) {
		return c.Transport.Do(ctx, core.TransportRequest{
			Method:               http.MethodGet,
			URL:                  target,
			Headers:              headers,
			Timeout:              c.RequestTimeout,
			MaxResponseBodyBytes: c.MaxResponseBytes,
		})
	}
	if c.Pacer == nil {
		return call(ctx)
	}
	return c.Pacer.Do(ctx, bucketFor(target), call)
}

// checkStatus turns a non 2xx response into the import error kind it implies.
func checkStatus(resource core.ResourceType, target string, res core.TransportResponse) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	err := fmt.Errorf("source: GET %s returned status %d%s", redact(target), res.StatusCode, errorSummary(res.Body))
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return core.NewImportError(core.ImportErrorKindAuth, resource, err)
	}
	return core.NewImportError(core.ImportErrorKindFetch, resource, err)
}

func fetchError(resource core.ResourceType, err error) error {
	return core.NewImportError(core.ImportErrorKindFetch, resource, err)
}

func authError(resource core.ResourceType, err error) error {
	return core.NewImportError(core.ImportErrorKindAuth, resource, err)
}

func decodeBody(resource core.ResourceType, body []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, fetchError(resource, fmt.Errorf("source: decode response body: %w", err))
	}
	return payload, nil
}

// toRecords keeps object elements and skips everything else.
func toRecords(items []any, limit int) ([]core.SourceRecord, bool) {
	records := make([]core.SourceRecord, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if limit > 0 && len(records) >= limit {
			return records, true
		}
		records = append(records, core.SourceRecord(obj))
	}
	return records, false
}

// errorSummary extracts a short provider message from an error body.
func errorSummary(body []byte) string {
	var payload map[string]any
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}
	for _, key := range []string{"errorSummary", "error_description", "message", "error"} {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return ": " + strings.TrimSpace(value)
		}
	}
	return ""
}

func bucketFor(target string) string {
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return "default"
	}
	return strings.ToLower(parsed.Host)
}

func redact(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	parsed.User = nil
	parsed.RawQuery = ""
	return parsed.String()
}

func bearer(token string) map[string]string {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + strings.TrimSpace(token)}
}
