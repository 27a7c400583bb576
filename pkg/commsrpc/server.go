package commsrpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/resource-rpc/pkg/commsutil"
)

const serverLogPrefix = "commsrpc:server"

// DefaultRequestTimeout bounds a request when the server is given no timeout.
const DefaultRequestTimeout = 30 * time.Second

// Server answers COMMS requests for one router on one subject.
type Server struct {
	router  *Router
	timeout time.Duration
	base    context.Context
}

// NewServer creates a server. base is the parent of every request context;
// cancelling it cancels in-flight requests.
func NewServer(base context.Context, router *Router, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Server{router: router, timeout: timeout, base: base}
}

// Subscribe starts serving subject on nc.
func (s *Server) Subscribe(nc *comms.Conn, subject string) (*comms.Subscription, error) {
	sub, err := nc.Subscribe(subject, s.handleMsg)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", serverLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", serverLogPrefix, subject))
	return sub, nil
}

func (s *Server) handleMsg(msg *comms.Msg) {
	resp := s.Handle(msg.Data)
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", serverLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to respond to %s: %v", serverLogPrefix, msg.Subject, err))
	}
}

// Handle decodes one raw envelope and runs it with the per-request timeout.
func (s *Server) Handle(data []byte) *Response {
	var req Request
	if err := commsutil.DecodePayload(data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", serverLogPrefix, err))
		return errorResponse("", CodeInvalidRequest, "Failed to decode request", false)
	}

	ctx, cancel := context.WithTimeout(s.base, s.requestTimeout(req.Ctx))
	defer cancel()
	return s.router.Handle(ctx, &req)
}

// requestTimeout honours a client deadline or timeout shorter than the server's.
func (s *Server) requestTimeout(ic *InvocationContext) time.Duration {
	if ic == nil {
		return s.timeout
	}
	ms := ic.DeadlineMs
	if ms <= 0 {
		ms = ic.TimeoutMs
	}
	if ms > 0 && time.Duration(ms)*time.Millisecond < s.timeout {
		return time.Duration(ms) * time.Millisecond
	}
	return s.timeout
}
