//go:build integration

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/resource-rpc/internal/config"
	"github.com/morezero/resource-rpc/internal/todos"
	"github.com/morezero/resource-rpc/pkg/commsrpc"
	"github.com/morezero/resource-rpc/pkg/commsutil"
	"github.com/morezero/resource-rpc/pkg/db"
	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

const integrationTestPrefix = "server:integration_test"

// Integration tests use DATABASE_URL (e.g. .../resources_test). Create it once
// with: resourced ensure-db resources_test

func TestIntegration_PostgresOverComms(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skipf("%s - DATABASE_URL not set, skipping", integrationTestPrefix)
	}
	commsURL := startComms(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg := testConfig()
	cfg.StoreDriver = config.StorePostgres
	cfg.DatabaseURL = url
	cfg.RunMigrations = true
	cfg.COMMSURL = commsURL
	cfg.HTTPPort = 0

	s, err := start(ctx, cfg)
	if err != nil {
		t.Fatalf("%s - start: %v", integrationTestPrefix, err)
	}
	defer s.shutdown(context.Background())
	if err := db.ClearTables(ctx, s.pool, todos.Model); err != nil {
		t.Fatalf("%s - ClearTables: %v", integrationTestPrefix, err)
	}

	nc, err := comms.Connect(commsURL)
	if err != nil {
		t.Fatalf("%s - connect: %v", integrationTestPrefix, err)
	}
	defer nc.Close()

	subject := commsutil.BuildResourceSubject(cfg.SubjectPrefix, "todos", todos.Name, 1)
	send := func(id, action, params string) *commsrpc.Response {
		data, _ := json.Marshal(commsrpc.Request{ID: id, Type: "invoke", Resource: todos.Name, Action: action, Params: json.RawMessage(params)})
		msg, err := nc.Request(subject, data, 10*time.Second)
		if err != nil {
			t.Errorf("%s - %s request: %v", integrationTestPrefix, action, err)
			return &commsrpc.Response{}
		}
		var resp commsrpc.Response
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			t.Errorf("%s - bad response %s", integrationTestPrefix, msg.Data)
		}
		return &resp
	}

	const numRequests = 20
	results := make(chan *commsrpc.Response, numRequests)
	for i := 0; i < numRequests; i++ {
		go func(idx int) {
			id := fmt.Sprintf("create-%d", idx)
			results <- send(id, "create", fmt.Sprintf(`{"title": "todo %d"}`, idx))
		}(i)
	}
	seen := map[string]bool{}
	for i := 0; i < numRequests; i++ {
		select {
		case resp := <-results:
			if !resp.Ok {
				t.Errorf("%s - concurrent create failed: %+v", integrationTestPrefix, resp.Error)
			}
			seen[resp.ID] = true
		case <-time.After(30 * time.Second):
			t.Fatalf("%s - timeout waiting for create %d", integrationTestPrefix, i)
		}
	}
	if len(seen) != numRequests {
		t.Errorf("%s - request IDs not preserved: %v", integrationTestPrefix, seen)
	}

	resp := send("list-1", "list", `{"limit": 5}`)
	var page struct {
		Items []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"items"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(resp.Result, &page); err != nil || page.Count != numRequests || len(page.Items) != 5 {
		t.Fatalf("%s - unexpected list %s", integrationTestPrefix, resp.Result)
	}

	first := page.Items[0].ID
	if resp := send("toggle-1", "toggle", `{"id": "`+first+`"}`); !resp.Ok {
		t.Errorf("%s - toggle failed: %+v", integrationTestPrefix, resp.Error)
	}
	resp = send("pending-1", "pending", `{}`)
	if err := json.Unmarshal(resp.Result, &page); err != nil || page.Count != numRequests-1 {
		t.Errorf("%s - unexpected pending %s", integrationTestPrefix, resp.Result)
	}

	if resp := send("delete-1", "delete", `{"id": "`+first+`"}`); !resp.Ok {
		t.Errorf("%s - delete failed: %+v", integrationTestPrefix, resp.Error)
	}
	if resp := send("get-1", "get", `{"id": "`+first+`"}`); resp.Ok || resp.Error == nil || resp.Error.Code != string(rpcerror.CodeNotFound) {
		t.Errorf("%s - get after delete = %+v", integrationTestPrefix, resp)
	}

	h := s.health(ctx)
	if h.Status != statusHealthy || h.Checks["database"] != "ok" {
		t.Errorf("%s - unexpected health %+v", integrationTestPrefix, h)
	}
}
