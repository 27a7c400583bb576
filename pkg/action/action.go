// Package action holds the named operations a resource exposes and the logic
// for invoking them under a cancellable context.
package action

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/grpc/metadata"

	"github.com/morezero/resource-rpc/pkg/paginate"
	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
	"github.com/morezero/resource-rpc/pkg/schema"
	"github.com/morezero/resource-rpc/pkg/store"
)

// Style is how a handler produces its result.
type Style int

const (
	// Direct handlers return their result in one call.
	Direct Style = iota
	// Lazy handlers return a sequence; exactly one step is consumed per call.
	Lazy
)

func (s Style) String() string {
	if s == Lazy {
		return "lazy"
	}
	return "direct"
}

// DirectFunc is a handler that returns its result immediately.
type DirectFunc func(ctx context.Context, call *Call) (any, error)

// LazyFunc is a handler that produces its result as a sequence. Only the first
// pair is consumed; a sequence that ends without yielding is an empty result.
type LazyFunc func(ctx context.Context, call *Call) iter.Seq2[any, error]

// Call carries one request to a handler.
type Call struct {
	Action string
	// Record is the decoded wire request.
	Record record.Record
	// Input is the parsed request object when the action declares a request schema.
	Input any
	// Criteria holds the declared filter values; set for list actions only.
	Criteria record.Record
	// Page is the requested window; set for list actions only.
	Page  paginate.Params
	Meta  metadata.MD
	Store store.Store
}

// Input returns the parsed request object of a call as T.
func Input[T any](call *Call) (T, bool) {
	v, ok := call.Input.(T)
	return v, ok
}

// Action is a named, immutable unit of work.
type Action struct {
	Name    string
	List    bool
	Request schema.Validator
	Style   Style

	direct DirectFunc
	lazy   LazyFunc
}

// Option configures an Action.
type Option func(*Action)

// AsList marks the action as returning a page of results.
func AsList() Option {
	return func(a *Action) { a.List = true }
}

// WithRequest parses the decoded request through v before invocation.
func WithRequest(v schema.Validator) Option {
	return func(a *Action) { a.Request = v }
}

// New declares a direct action.
func New(name string, fn DirectFunc, opts ...Option) Action {
	a := Action{Name: name, Style: Direct, direct: fn}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// NewLazy declares a lazy-sequence action.
func NewLazy(name string, fn LazyFunc, opts ...Option) Action {
	a := Action{Name: name, Style: Lazy, lazy: fn}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// Invoke runs the handler. If ctx is done before the handler finishes, the
// handler is abandoned and a CANCELLED error is returned instead of its result.
// Handler errors outside the error taxonomy are wrapped as HANDLER_ERROR.
func (a Action) Invoke(ctx context.Context, call *Call) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		v, err := a.run(ctx, call)
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, rpcerror.Cancelled(ctx.Err())
	case out := <-done:
		if out.err != nil {
			return nil, a.wrap(ctx, out.err)
		}
		return out.value, nil
	}
}

func (a Action) run(ctx context.Context, call *Call) (any, error) {
	switch {
	case a.Style == Lazy && a.lazy != nil:
		next, stop := iter.Pull2(a.lazy(ctx, call))
		defer stop()
		v, err, ok := next()
		if !ok {
			return nil, nil
		}
		return v, err
	case a.direct != nil:
		return a.direct(ctx, call)
	default:
		return nil, fmt.Errorf("action %s has no handler", a.Name)
	}
}

func (a Action) wrap(ctx context.Context, err error) error {
	if e, ok := rpcerror.As(err); ok {
		if e.Action == "" {
			return e.WithAction(a.Name)
		}
		return e
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return rpcerror.Cancelled(err)
	}
	return rpcerror.Handler(a.Name, err)
}
