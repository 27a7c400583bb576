package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/resource-rpc/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Service fills ResourceChangedEvent.Service when the event leaves it empty.
	Service string
	// GlobalChangeSubject overrides the global change event subject.
	GlobalChangeSubject string
}

// CommsPublisher publishes resource change events to COMMS subjects.
type CommsPublisher struct {
	nc                  *comms.Conn
	service             string
	globalChangeSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, globalChangeSubject: commsutil.SubjectChangeEvent}
	if opts != nil {
		p.service = opts.Service
		if opts.GlobalChangeSubject != "" {
			p.globalChangeSubject = opts.GlobalChangeSubject
		}
	}
	return p
}

// PublishChanged publishes the event to the resource's granular subject and to
// the global change subject.
func (p *CommsPublisher) PublishChanged(_ context.Context, event *ResourceChangedEvent) error {
	if event.Service == "" {
		e := *event
		e.Service = p.service
		event = &e
	}
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granularSubject := commsutil.BuildChangeSubject(event.Service, event.Resource)
	if err := p.nc.Publish(granularSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granularSubject, err))
		return err
	}

	if err := p.nc.Publish(p.globalChangeSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalChangeSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event for %s/%v", commsPublisherLogPrefix, event.Kind, event.Resource, event.ID))
	return nil
}
