// Package errmodel defines the compact error payloads used across the
// capability synthesis core. Every operation boundary converts failures into
// one of these categories; nothing inside the core is allowed to crash the
// hosting turn.
package errmodel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Category values. They mirror the failure taxonomy of the registry and
// synthesizer operations.
const (
	CategoryValidation = "validation" // malformed name, parameter list, or target namespace
	CategoryDuplicate  = "duplicate"  // name already present in the namespace
	CategorySynthesis  = "synthesis"  // constructed unit failed its self-check
	CategoryExecution  = "execution"  // behavior script failed or produced no result
	CategoryNotFound   = "not_found"  // capability or agent name absent
	CategoryPolicy     = "policy"     // delegation to a disabled agent, forbidden operation
	CategorySystem     = "system"     // everything else
)

// Error is the compact error payload returned by operations and the HTTP
// front end. It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// New constructs a compact error. Message and context values are truncated so
// payloads stay bounded even when a behavior script misbehaves.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err already is an *Error
// it is returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512)}
}

// Convenience constructors, one per taxonomy branch.

func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func Duplicate(message string, ctx map[string]any) *Error {
	return New(CategoryDuplicate, "conflict", message, ctx)
}

func Synthesis(message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySynthesis, "self_check_failed", message, ctx, cause)
	}
	return New(CategorySynthesis, "self_check_failed", message, ctx)
}

func Execution(message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategoryExecution, "script_failed", message, ctx, cause)
	}
	return New(CategoryExecution, "script_failed", message, ctx)
}

func NotFound(message string, ctx map[string]any) *Error {
	return New(CategoryNotFound, "not_found", message, ctx)
}

func Disabled(message string, ctx map[string]any) *Error {
	return New(CategoryPolicy, "disabled", message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySystem, code, message, ctx, cause)
	}
	return New(CategorySystem, code, message, ctx)
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}

// HTTPStatus maps a compact error to an HTTP status for the front end.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation, CategorySynthesis:
		return http.StatusBadRequest
	case CategoryDuplicate:
		return http.StatusConflict
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryPolicy:
		return http.StatusForbidden
	case CategoryExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes the error envelope `{error, trace_id?}` to the response,
// including the active trace id when one is present on the request context.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	ce := From(err)
	if ce == nil {
		ce = &Error{Category: CategorySystem, Code: "internal", Message: "unknown error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(ce))

	traceID := ""
	if r != nil {
		if span := trace.SpanFromContext(r.Context()); span != nil {
			if sc := span.SpanContext(); sc.HasTraceID() {
				traceID = sc.TraceID().String()
			}
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    ce,
		"trace_id": traceID,
	})
}

// Payload renders any error as the inline failure object returned to the
// model instead of an aborted call. Classified errors keep their category
// and code; everything else is reported as a system fault.
func Payload(err error) map[string]any {
	ce := From(err)
	out := map[string]any{
		"success":  false,
		"error":    ce.Message,
		"category": ce.Category,
		"code":     ce.Code,
	}
	for k, v := range ce.Context {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 256 {
				out[k] = truncate(string(b), 256)
			} else {
				out[k] = t
			}
		}
	}
	return out
}
