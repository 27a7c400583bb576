// Package commsrpc serves resource bindings over COMMS request/reply using
// JSON envelopes whose params and result are protojson wire messages.
package commsrpc

import (
	"encoding/json"

	"google.golang.org/grpc/metadata"
)

// Request is the JSON envelope for incoming COMMS resource requests.
type Request struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Resource string             `json:"resource"`
	Action   string             `json:"action"`
	Params   json.RawMessage    `json:"params"`
	Ctx      *InvocationContext `json:"ctx,omitempty"`
}

// Response is the JSON envelope for COMMS resource responses.
type Response struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	TenantID      string   `json:"tenantId,omitempty"`
	UserID        string   `json:"userId,omitempty"`
	RequestID     string   `json:"requestId,omitempty"`
	CorrelationID string   `json:"correlationId,omitempty"`
	Env           string   `json:"env,omitempty"`
	Aud           string   `json:"aud,omitempty"`
	Features      []string `json:"features,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	DeadlineMs    int      `json:"deadlineMs,omitempty"`
	TimeoutMs     int      `json:"timeoutMs,omitempty"`
}

// Metadata exposes the caller context to handlers the way gRPC metadata is:
// lower-case keys, one entry per value.
func (c *InvocationContext) Metadata() metadata.MD {
	md := metadata.MD{}
	if c == nil {
		return md
	}
	set := func(key, value string) {
		if value != "" {
			md.Set(key, value)
		}
	}
	set("tenant-id", c.TenantID)
	set("user-id", c.UserID)
	set("request-id", c.RequestID)
	set("correlation-id", c.CorrelationID)
	set("env", c.Env)
	set("aud", c.Aud)
	if len(c.Features) > 0 {
		md.Set("features", c.Features...)
	}
	if len(c.Roles) > 0 {
		md.Set("roles", c.Roles...)
	}
	return md
}
