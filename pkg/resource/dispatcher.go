package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/morezero/resource-rpc/pkg/action"
	"github.com/morezero/resource-rpc/pkg/codec"
	"github.com/morezero/resource-rpc/pkg/events"
	"github.com/morezero/resource-rpc/pkg/filter"
	"github.com/morezero/resource-rpc/pkg/paginate"
	"github.com/morezero/resource-rpc/pkg/record"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
	"github.com/morezero/resource-rpc/pkg/store"
)

const logPrefix = "resource:dispatch"

// Envelope is one incoming request: the wire message, the caller's transport
// metadata and the wire type the response must have.
type Envelope struct {
	Message  proto.Message
	Meta     metadata.MD
	Response protoreflect.MessageType
}

// Observer is told the outcome of every dispatch. code is empty on success.
type Observer interface {
	ObserveDispatch(resource, action string, code rpcerror.Code, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveDispatch(string, string, rpcerror.Code, time.Duration) {}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher sets the publisher for change events of generated mutations.
func WithPublisher(p events.EventPublisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithObserver sets the dispatch observer, e.g. a metrics collector.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// Dispatcher runs wire requests against one resource definition. It holds no
// per-request state and is safe for concurrent use.
type Dispatcher struct {
	def       *Definition
	store     store.Store
	publisher events.EventPublisher
	observer  Observer
	now       func() time.Time
}

// NewDispatcher creates a dispatcher for def backed by st. st may be nil for
// resources whose actions never touch persistence.
func NewDispatcher(def *Definition, st store.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		def:       def,
		store:     st,
		publisher: &events.NoOpPublisher{},
		observer:  noopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Definition returns the resource definition served by d.
func (d *Dispatcher) Definition() *Definition {
	return d.def
}

// Dispatch resolves the named action and runs it on env. It returns exactly one
// of a response message or an *rpcerror.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, env *Envelope) (proto.Message, error) {
	start := time.Now()
	slog.Debug(fmt.Sprintf("%s - resource=%s action=%s", logPrefix, d.def.name, name))

	resp, err := d.dispatch(ctx, name, env)
	if err != nil {
		e := d.failure(name, err)
		d.observer.ObserveDispatch(d.def.name, name, e.Code, time.Since(start))
		if e.Code == rpcerror.CodeHandler {
			slog.Warn(fmt.Sprintf("%s - %s.%s failed: %v", logPrefix, d.def.name, name, e))
		} else {
			slog.Debug(fmt.Sprintf("%s - %s.%s rejected: %v", logPrefix, d.def.name, name, e))
		}
		return nil, e
	}
	d.observer.ObserveDispatch(d.def.name, name, "", time.Since(start))
	return resp, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, env *Envelope) (proto.Message, error) {
	act, err := d.def.actions.Resolve(name)
	if err != nil {
		return nil, err
	}
	if env == nil || env.Response == nil {
		return nil, rpcerror.SchemaMismatch("no response type for %s.%s", d.def.name, name)
	}

	rec, err := codec.Decode(env.Message)
	if err != nil {
		return nil, err
	}
	call := &action.Call{Action: name, Record: rec, Meta: env.Meta, Store: d.store}

	if act.Request != nil {
		in, err := act.Request.Parse(rec)
		if err != nil {
			return nil, err
		}
		call.Input = in
	}

	if act.List {
		criteria, err := filter.Apply(rec, d.def.filters, d.def.policy)
		if err != nil {
			return nil, err
		}
		call.Criteria = criteria
		call.Page = paginate.ParamsFrom(rec)
	}

	if err := ctx.Err(); err != nil {
		return nil, rpcerror.Cancelled(err)
	}
	result, err := act.Invoke(ctx, call)
	if err != nil {
		return nil, err
	}

	var out record.Record
	if act.List {
		out, err = d.page(ctx, result, call.Page, env.Response)
	} else {
		out, err = d.serialize(result)
	}
	if err != nil {
		return nil, err
	}

	resp, err := codec.Encode(out, env.Response)
	if err != nil {
		return nil, err
	}
	d.publish(ctx, name, call, out)
	return resp, nil
}

func (d *Dispatcher) page(ctx context.Context, result any, params paginate.Params, response protoreflect.MessageType) (record.Record, error) {
	src, err := paginate.SourceOf(result)
	if err != nil {
		return nil, err
	}
	page, err := paginate.Paginate(ctx, src, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rpcerror.Cancelled(err)
		}
		return nil, err
	}
	// Lazy sources read after Invoke returns, so a source that ignores ctx
	// is caught here.
	if err := ctx.Err(); err != nil {
		return nil, rpcerror.Cancelled(err)
	}

	items := make([]any, 0, len(page.Items))
	for _, item := range page.Items {
		r, err := d.def.schema.Serialize(item)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}

	out := record.Record{"items": items, "count": int64(page.Count)}
	// limit and offset are echoed only when the response type declares them.
	fields := response.Descriptor().Fields()
	if fields.ByName("limit") != nil {
		out["limit"] = int64(page.Limit)
	}
	if fields.ByName("offset") != nil {
		out["offset"] = int64(page.Offset)
	}
	return out, nil
}

func (d *Dispatcher) serialize(result any) (record.Record, error) {
	switch r := result.(type) {
	case nil:
		return record.Record{}, nil
	case Response:
		return record.Record(r).Clone(), nil
	default:
		return d.def.schema.Serialize(result)
	}
}

// failure attaches the action name and maps stray errors into the taxonomy.
func (d *Dispatcher) failure(name string, err error) *rpcerror.Error {
	e, ok := rpcerror.As(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return rpcerror.Cancelled(err).WithAction(name)
		}
		return rpcerror.Handler(name, err)
	}
	if e.Action == "" {
		return e.WithAction(name)
	}
	return e
}

func (d *Dispatcher) publish(ctx context.Context, name string, call *action.Call, out record.Record) {
	kind, ok := d.def.mutations[name]
	if !ok {
		return
	}
	event := &events.ResourceChangedEvent{
		Resource:  d.def.name,
		Action:    name,
		Kind:      kind,
		ID:        call.Record[PrimaryKey],
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}
	switch kind {
	case events.KindCreated:
		event.ID = out[PrimaryKey]
		event.Record = out
	case events.KindUpdated:
		event.ChangedFields = schemaFields(d.def, call.Record, false)
		event.Record = out
	}
	if err := d.publisher.PublishChanged(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event for %s: %v", logPrefix, kind, d.def.name, err))
	}
}
