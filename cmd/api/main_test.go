package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/haven/backend/internal/config"
	"github.com/zhouzirui/haven/backend/internal/notify"
)

func TestRunServerShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServer err: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestBuildSinksDefaults(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()

	sink, closeSinks := buildSinks(config.NotifyConfig{}, hub, zerolog.Nop())
	defer closeSinks()

	multi, ok := sink.(notify.Multi)
	if !ok {
		t.Fatalf("expected notify.Multi, got %T", sink)
	}
	if len(multi) != 2 {
		t.Fatalf("expected log and hub sinks, got %d", len(multi))
	}

	withWebhook, _ := buildSinks(config.NotifyConfig{WebhookURL: "http://127.0.0.1:1/hook"}, hub, zerolog.Nop())
	if len(withWebhook.(notify.Multi)) != 3 {
		t.Fatal("expected webhook sink to be added")
	}
}
