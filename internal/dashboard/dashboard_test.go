package dashboard

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gobwasws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

type fakeSource struct {
	snapshot map[string]Snapshot
}

func (f fakeSource) Snapshot() map[string]Snapshot {
	return f.snapshot
}

func TestDashboardPushesCountersSnapshotToClient(t *testing.T) {
	source := fakeSource{snapshot: map[string]Snapshot{
		"orders": {OutOfSeq: 1, Duplicate: 2, Loss: 3},
	}}

	srv := New(source, 20*time.Millisecond, zerolog.Nop())
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/counters"

	conn, _, _, err := gobwasws.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go srv.Run(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, _, err := wsutil.ReadServerData(conn)
	if err != nil {
		t.Fatalf("failed to read pushed counters: %v", err)
	}

	var got map[string]Snapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal counters payload: %v", err)
	}

	if got["orders"].Loss != 3 {
		t.Fatalf("expected orders.loss = 3, got %+v", got["orders"])
	}
}

func TestDashboardRemovesClientOnDisconnect(t *testing.T) {
	source := fakeSource{snapshot: map[string]Snapshot{}}
	srv := New(source, time.Hour, zerolog.Nop())
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/counters"
	conn, _, _, err := gobwasws.Dial(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		n := len(srv.clients)
		srv.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client was never removed from the registry after disconnect")
}
