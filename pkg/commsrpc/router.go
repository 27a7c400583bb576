package commsrpc

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/morezero/resource-rpc/pkg/commsutil"
	"github.com/morezero/resource-rpc/pkg/resource"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

const logPrefix = "commsrpc:router"

// Transport-level codes for envelopes that never reach a resource.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnknownResource = "UNKNOWN_RESOURCE"
)

// RateLimit configures a per-action token bucket. A zero Rate disables limiting.
type RateLimit struct {
	Rate  rate.Limit
	Burst int
}

// Router routes requests for one resource to its bindings by action name.
type Router struct {
	resource string
	bindings map[string]resource.Binding
	limit    RateLimit
	limiters map[string]*rate.Limiter
}

// NewRouter creates a router for the bindings of resourceName. When two
// bindings share an action the first one is used.
func NewRouter(resourceName string, bindings []resource.Binding, limit RateLimit) (*Router, error) {
	r := &Router{
		resource: resourceName,
		bindings: make(map[string]resource.Binding),
		limit:    limit,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, b := range bindings {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if b.Dispatcher.Definition().Name() != resourceName {
			continue
		}
		if _, ok := r.bindings[b.Action]; ok {
			slog.Debug(fmt.Sprintf("%s - %s.%s already bound, skipping %s", logPrefix, resourceName, b.Action, b.Method))
			continue
		}
		r.bindings[b.Action] = b
		if limit.Rate > 0 {
			burst := limit.Burst
			if burst <= 0 {
				burst = 1
			}
			r.limiters[b.Action] = rate.NewLimiter(limit.Rate, burst)
		}
	}
	if len(r.bindings) == 0 {
		return nil, fmt.Errorf("%s - no bindings for resource %s", logPrefix, resourceName)
	}
	return r, nil
}

// Resource returns the name of the routed resource.
func (r *Router) Resource() string {
	return r.resource
}

// Handle runs one request and always returns a response carrying the request id.
func (r *Router) Handle(ctx context.Context, req *Request) *Response {
	slog.Debug(fmt.Sprintf("%s - resource=%s action=%s id=%s", logPrefix, req.Resource, req.Action, req.ID))

	if req.Resource != "" && req.Resource != r.resource {
		return errorResponse(req.ID, CodeUnknownResource, fmt.Sprintf("Unknown resource: %s", req.Resource), false)
	}

	b, ok := r.bindings[req.Action]
	if !ok {
		// Registered but unbound actions have no wire types.
		return failure(req.ID, rpcerror.ActionNotFound(req.Action))
	}

	if lim, ok := r.limiters[req.Action]; ok && !lim.Allow() {
		return failure(req.ID, rpcerror.ResourceExhausted("rate limit exceeded for %s.%s", r.resource, req.Action).WithAction(req.Action))
	}

	msg := b.NewRequest()
	if err := commsutil.DecodeMessage(req.Params, msg); err != nil {
		return failure(req.ID, rpcerror.Validation([]rpcerror.FieldError{{Field: "params", Message: err.Error()}}).WithAction(req.Action))
	}

	resp, err := b.Call(ctx, msg, req.Ctx.Metadata())
	if err != nil {
		return failure(req.ID, err)
	}

	result, err := commsutil.EncodeMessage(resp)
	if err != nil {
		return failure(req.ID, rpcerror.SchemaMismatch("%v", err).WithAction(req.Action))
	}
	return &Response{ID: req.ID, Ok: true, Result: result}
}

func errorResponse(id, code, message string, retryable bool) *Response {
	return &Response{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func failure(id string, err error) *Response {
	e, ok := rpcerror.As(err)
	if !ok {
		return errorResponse(id, string(rpcerror.CodeHandler), err.Error(), true)
	}
	detail := &ErrorDetail{
		Code:      string(e.Code),
		Message:   e.Message,
		Action:    e.Action,
		Retryable: e.Retryable(),
	}
	if len(e.Fields) > 0 {
		detail.Details = map[string]any{"fields": e.Fields}
	}
	return &Response{ID: id, Ok: false, Error: detail}
}
