package commsrpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/resource-rpc/pkg/commsutil"
)

const serverTestPrefix = "commsrpc:server_test"

func startTestServer(t *testing.T) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", serverTestPrefix)
	}
	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", serverTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestServer_RequestReply(t *testing.T) {
	nc := startTestServer(t)
	srv := NewServer(context.Background(), newRouter(t, RateLimit{}), time.Second)
	subject := commsutil.BuildResourceSubject("", "accounts", "users", 1)
	sub, err := srv.Subscribe(nc, subject)
	if err != nil {
		t.Fatalf("%s - Subscribe failed: %v", serverTestPrefix, err)
	}
	defer sub.Unsubscribe()

	data, _ := json.Marshal(Request{ID: "r-1", Type: "invoke", Resource: "users", Action: "get", Params: json.RawMessage(`{"id": 2}`)})
	msg, err := nc.Request(subject, data, 5*time.Second)
	if err != nil {
		t.Fatalf("%s - request failed: %v", serverTestPrefix, err)
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("%s - bad response: %v", serverTestPrefix, err)
	}
	if !resp.Ok || resp.ID != "r-1" {
		t.Fatalf("%s - unexpected response %+v", serverTestPrefix, resp)
	}
	var user map[string]any
	if err := json.Unmarshal(resp.Result, &user); err != nil || user["username"] != "bob" {
		t.Errorf("%s - unexpected result %s", serverTestPrefix, resp.Result)
	}

	msg, err = nc.Request(subject, []byte("not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("%s - request failed: %v", serverTestPrefix, err)
	}
	if err := json.Unmarshal(msg.Data, &resp); err != nil || resp.Ok || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("%s - undecodable envelope should fail with %s, got %s", serverTestPrefix, CodeInvalidRequest, msg.Data)
	}
}

func TestServer_RequestTimeout(t *testing.T) {
	srv := NewServer(context.Background(), nil, 2*time.Second)
	tests := []struct {
		name string
		ic   *InvocationContext
		want time.Duration
	}{
		{"no context", nil, 2 * time.Second},
		{"shorter deadline", &InvocationContext{DeadlineMs: 500}, 500 * time.Millisecond},
		{"timeout when no deadline", &InvocationContext{TimeoutMs: 250}, 250 * time.Millisecond},
		{"deadline wins over timeout", &InvocationContext{DeadlineMs: 100, TimeoutMs: 250}, 100 * time.Millisecond},
		{"longer than server", &InvocationContext{TimeoutMs: 5000}, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := srv.requestTimeout(tt.ic); got != tt.want {
				t.Errorf("%s - requestTimeout = %v, want %v", serverTestPrefix, got, tt.want)
			}
		})
	}

	if NewServer(context.Background(), nil, 0).timeout != DefaultRequestTimeout {
		t.Errorf("%s - zero timeout should use the default", serverTestPrefix)
	}
}

func TestServer_CancelledBase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv := NewServer(ctx, newRouter(t, RateLimit{}), time.Second)
	data, _ := json.Marshal(Request{ID: "c-1", Action: "list"})
	resp := srv.Handle(data)
	if resp.Ok || resp.Error.Code != "CANCELLED" {
		t.Errorf("%s - cancelled server context should cancel the request: %+v", serverTestPrefix, resp)
	}
}
