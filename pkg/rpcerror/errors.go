// Package rpcerror defines the failure kinds returned by resource dispatch and
// their mapping onto transport status codes.
package rpcerror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a failure kind.
type Code string

const (
	CodeActionNotFound    Code = "ACTION_NOT_FOUND"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeSchemaMismatch    Code = "SCHEMA_MISMATCH"
	CodeFilterRejected    Code = "FILTER_REJECTED"
	CodeCancelled         Code = "CANCELLED"
	CodeHandler           Code = "HANDLER_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
)

// FieldError describes one invalid field of a request.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a typed dispatch failure.
type Error struct {
	Code    Code
	Message string
	// Action is the action name the failure occurred in, when known.
	Action string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Action != "" {
		b.WriteString(" [")
		b.WriteString(e.Action)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithAction returns a copy of e tagged with the action name.
func (e *Error) WithAction(action string) *Error {
	cp := *e
	cp.Action = action
	return &cp
}

// Retryable reports whether a caller may retry the same request unchanged.
func (e *Error) Retryable() bool {
	return e.Code == CodeHandler || e.Code == CodeResourceExhausted
}

// GRPCCode maps the failure kind onto a gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeValidation, CodeFilterRejected:
		return codes.InvalidArgument
	case CodeActionNotFound:
		return codes.Unimplemented
	case CodeNotFound:
		return codes.NotFound
	case CodeSchemaMismatch:
		return codes.Internal
	case CodeCancelled:
		return codes.Canceled
	case CodeResourceExhausted:
		return codes.ResourceExhausted
	default:
		return codes.Unknown
	}
}

// GRPCStatus lets grpc-go translate the error without a custom interceptor.
// Field errors travel as a BadRequest detail.
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(e.Code.GRPCCode(), e.Message)
	if len(e.Fields) == 0 {
		return st
	}
	br := &errdetails.BadRequest{}
	for _, f := range e.Fields {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       f.Field,
			Description: f.Message,
		})
	}
	withDetails, err := st.WithDetails(br)
	if err != nil {
		return st
	}
	return withDetails
}

// ActionNotFound reports an unknown action name.
func ActionNotFound(name string) *Error {
	return &Error{
		Code:    CodeActionNotFound,
		Message: fmt.Sprintf("unknown action: %s", name),
		Action:  name,
	}
}

// Validation reports a request that failed schema checks, one entry per field.
func Validation(fields []FieldError) *Error {
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return &Error{
		Code:    CodeValidation,
		Message: strings.Join(msgs, "; "),
		Fields:  fields,
	}
}

// SchemaMismatch reports data shaped incompatibly with the target schema.
func SchemaMismatch(format string, args ...any) *Error {
	return &Error{Code: CodeSchemaMismatch, Message: fmt.Sprintf(format, args...)}
}

// FilterRejected reports a filter value of the wrong type.
func FilterRejected(field, message string) *Error {
	return &Error{
		Code:    CodeFilterRejected,
		Message: fmt.Sprintf("filter %s: %s", field, message),
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}

// Cancelled reports a caller that abandoned the request.
func Cancelled(cause error) *Error {
	msg := "request cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "request deadline exceeded"
	}
	return &Error{Code: CodeCancelled, Message: msg, Err: cause}
}

// Handler wraps an opaque failure from an action's own logic.
func Handler(action string, cause error) *Error {
	return &Error{
		Code:    CodeHandler,
		Message: cause.Error(),
		Action:  action,
		Err:     cause,
	}
}

// NotFound reports a missing instance addressed by a detail action.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// ResourceExhausted reports a request refused by a rate limit.
func ResourceExhausted(format string, args ...any) *Error {
	return &Error{Code: CodeResourceExhausted, Message: fmt.Sprintf(format, args...)}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the failure kind of err. Errors outside the taxonomy report CodeHandler.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeHandler
}
