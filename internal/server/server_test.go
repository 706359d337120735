package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/homardcloud/cronos/internal/engine"
	"github.com/homardcloud/cronos/internal/model"
	"github.com/homardcloud/cronos/internal/proto"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	e, err := engine.Open(dbPath, 1000, 300_000)
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func startTestServer(t *testing.T) (socketPath string, stop func()) {
	t.Helper()
	socketPath = filepath.Join(t.TempDir(), "cronos.sock")
	e := newTestEngine(t)
	srv := New(socketPath, e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return socketPath, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	}
}

func TestServerHandlesHeartbeatOverSocket(t *testing.T) {
	socketPath, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := proto.NewMessage("h1", proto.Heartbeat{})
	if err := proto.WriteFrame(conn, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	resp, err := proto.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	ack, ok := resp.Kind.(proto.Ack)
	if !ok || ack.RequestID != "h1" {
		t.Fatalf("expected Ack(h1), got %+v", resp.Kind)
	}
}

func TestServerHandlesMultipleFramesOnOneConnection(t *testing.T) {
	socketPath, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		if err := proto.WriteFrame(conn, proto.NewMessage("hb", proto.Heartbeat{})); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
		resp, err := proto.ReadFrame(conn)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if _, ok := resp.Kind.(proto.Ack); !ok {
			t.Fatalf("expected Ack on frame %d, got %+v", i, resp.Kind)
		}
	}
}

func TestServerHandlesEmitEventOverSocket(t *testing.T) {
	socketPath, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	event := model.Event{
		ID:        model.NewEventId(),
		Timestamp: model.Now(),
		Source:    model.SourceFilesystem,
		Kind:      model.EventKindFileModified,
		Subject:   model.EntityRef{Kind: model.EntityKindFile, Identity: "/src/main.go", Attributes: model.Attributes{}},
		Context:   []model.EntityRef{},
		Metadata:  model.Attributes{},
	}
	req := proto.NewMessage("e1", proto.EmitEvent{Event: event})
	if err := proto.WriteFrame(conn, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	resp, err := proto.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if _, ok := resp.Kind.(proto.Ack); !ok {
		t.Fatalf("expected Ack, got %+v", resp.Kind)
	}
}

func TestServerRemovesStaleSocketFile(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "cronos.sock")

	stale, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("bind stale listener: %v", err)
	}
	stale.Close()

	e := newTestEngine(t)
	srv := New(socketPath, e)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	var dialErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			dialErr = nil
			break
		}
		dialErr = err
		time.Sleep(10 * time.Millisecond)
	}
	if dialErr != nil {
		t.Fatalf("expected to connect after stale socket cleanup: %v", dialErr)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
