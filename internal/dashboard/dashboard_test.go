package dashboard

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/fabtrace/wafersync/internal/ingest"
	"github.com/fabtrace/wafersync/internal/schema"
	"github.com/fabtrace/wafersync/internal/store"
)

func testConfig() *Config {
	return &Config{
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "[test] ", log.LstdFlags),
	}
}

func startServer(t *testing.T, config *Config) *Server {
	t.Helper()
	server := NewServer(config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(testConfig())
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHandler_BroadcastsRunLifecycle(t *testing.T) {
	server := startServer(t, testConfig())
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats {
		t.Fatalf("welcome type = %s, want %s", msg.Type, MessageTypeStats)
	}

	report := &ingest.Report{RunID: "run-1"}
	handler.RunStarted(report)
	fail := ingest.Failure{Path: "/data/x", Stage: schema.StageWLBI, Cause: "misaligned layout"}
	report.Failures = append(report.Failures, fail)
	handler.RunFailure(report, fail)
	report.Counts.Inserted = 4
	report.FinishedAt = time.Now()
	handler.RunFinished(report)

	want := []MessageType{MessageTypeRunStarted, MessageTypeFailure, MessageTypeRunComplete, MessageTypeStats}
	var complete RunCompleteData
	var stats StatsData
	for i, typ := range want {
		msg := readMessage(t, ctx, conn)
		if msg.Type != typ {
			t.Fatalf("message %d type = %s, want %s", i, msg.Type, typ)
		}
		switch typ {
		case MessageTypeRunComplete:
			json.Unmarshal(msg.Data, &complete)
		case MessageTypeStats:
			json.Unmarshal(msg.Data, &stats)
		}
	}

	if complete.RunID != "run-1" || complete.Counts.Inserted != 4 || complete.Failures != 1 {
		t.Errorf("run complete = %+v", complete)
	}
	if stats.Runs != 1 || stats.FailedRuns != 1 || stats.Inserted != 4 || stats.Running {
		t.Errorf("stats = %+v", stats)
	}
	if got := handler.GetStats(); got.LastRunID != "run-1" || got.Failures != 1 {
		t.Errorf("GetStats() = %+v", got)
	}
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t, testConfig())
	NewHandler(server, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		clients[i] = dial(t, ctx, server)
		readMessage(t, ctx, clients[i])
	}
	if count := server.ClientCount(); count != 3 {
		t.Errorf("Expected 3 clients, got %d", count)
	}

	server.Broadcast(Message{Type: MessageTypeStats})
	for i, conn := range clients {
		if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats || msg.Timestamp.IsZero() {
			t.Errorf("client %d got %+v", i, msg)
		}
	}
}

// fakeRuns serves canned run records.
type fakeRuns struct {
	records []store.RunRecord
	err     error
}

func (f fakeRuns) ListRuns(_ context.Context, limit int) ([]store.RunRecord, error) {
	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], f.err
	}
	return f.records, f.err
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("failed to decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHTTPEndpoints(t *testing.T) {
	r1, _ := (&ingest.Report{RunID: "a"}).Marshal()
	r2, _ := (&ingest.Report{RunID: "b"}).Marshal()
	config := testConfig()
	config.Runs = fakeRuns{records: []store.RunRecord{{ID: "a", Report: r1}, {ID: "b", Report: r2}}}
	server := startServer(t, config)
	base := "http://" + server.GetAddr()

	var health map[string]any
	if code := getJSON(t, base+"/health", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("/health = %d %v", code, health)
	}

	var reports []ingest.Report
	if code := getJSON(t, base+"/runs?limit=1", &reports); code != http.StatusOK {
		t.Fatalf("/runs status = %d", code)
	}
	if len(reports) != 1 || reports[0].RunID != "a" {
		t.Errorf("/runs = %+v", reports)
	}

	if code := getJSON(t, base+"/runs?limit=x", nil); code != http.StatusBadRequest {
		t.Errorf("/runs?limit=x status = %d", code)
	}
}

func TestHTTPRuns_Errors(t *testing.T) {
	server := startServer(t, testConfig())
	if code := getJSON(t, "http://"+server.GetAddr()+"/runs", nil); code != http.StatusNotFound {
		t.Errorf("/runs without lister = %d", code)
	}

	config := testConfig()
	config.Runs = fakeRuns{err: errors.New("db closed")}
	failing := startServer(t, config)
	if code := getJSON(t, "http://"+failing.GetAddr()+"/runs", nil); code != http.StatusInternalServerError {
		t.Errorf("/runs with failing store = %d", code)
	}
}
