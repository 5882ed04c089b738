package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthenticated is returned when the service rejects the bearer token.
var ErrUnauthenticated = errors.New("remote: not authenticated (run `itc login`)")

// ErrSubmissionInFlight is returned by Session when a submission is already
// waiting for a response.
var ErrSubmissionInFlight = errors.New("remote: a submission is already in progress")

// FieldError is one problem the service reported about the uploaded input.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is a structured rejection from the service. It is
// user-actionable: fix the input and resubmit.
type ValidationError struct {
	StatusCode int
	Message    string
	Fields     []FieldError
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("remote: rejected")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, f := range e.Fields {
		b.WriteString("; ")
		if f.Field != "" {
			b.WriteString(f.Field)
			b.WriteString(": ")
		}
		b.WriteString(f.Message)
	}
	return b.String()
}

// TransportError means the service could not be reached or answered with
// something unusable. The detail is kept for logs; users see Error().
type TransportError struct {
	Op         string
	StatusCode int // 0 when no response arrived
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote: %s: service unavailable, try again", e.Op)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Detail returns the underlying cause for diagnostics.
func (e *TransportError) Detail() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// parseValidation decodes a 4xx error body. The service sends "detail" as a
// plain string, a list of {loc|field, msg}, or {message, errors}. ok is false
// when no usable detail is present.
func parseValidation(status int, body []byte) (*ValidationError, bool) {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 || string(env.Detail) == "null" {
		return nil, false
	}
	ve := &ValidationError{StatusCode: status}

	var msg string
	if err := json.Unmarshal(env.Detail, &msg); err == nil {
		ve.Message = msg
		return ve, msg != ""
	}

	var items []struct {
		Loc   []interface{} `json:"loc"`
		Field string        `json:"field"`
		Msg   string        `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &items); err == nil {
		for _, it := range items {
			field := it.Field
			if field == "" {
				field = joinLoc(it.Loc)
			}
			ve.Fields = append(ve.Fields, FieldError{Field: field, Message: it.Msg})
		}
		return ve, len(ve.Fields) > 0
	}

	var obj struct {
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	}
	if err := json.Unmarshal(env.Detail, &obj); err == nil {
		ve.Message = obj.Message
		for _, e := range obj.Errors {
			ve.Fields = append(ve.Fields, FieldError{Message: e})
		}
		return ve, ve.Message != "" || len(ve.Fields) > 0
	}
	return nil, false
}

// joinLoc renders a location path such as ["body", "file"] as "file".
func joinLoc(loc []interface{}) string {
	var parts []string
	for _, p := range loc {
		s := fmt.Sprint(p)
		if s == "body" || s == "query" || s == "path" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}
