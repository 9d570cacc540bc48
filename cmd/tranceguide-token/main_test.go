package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/tranceguide/pkg/gateway/config"
	gatewayserver "github.com/vango-go/tranceguide/pkg/gateway/server"
)

func testConfig() config.Config {
	return config.Config{
		Addr:                          "127.0.0.1:0",
		AuthMode:                      config.AuthModeDisabled,
		APIKeys:                       map[string]struct{}{},
		MaxBodyBytes:                  4 << 10,
		OpenAIAPIKey:                  "sk-test",
		OpenAIBaseURL:                 "http://127.0.0.1:1",
		RealtimeModel:                 "gpt-realtime",
		CORSAllowedOrigins:            map[string]struct{}{},
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		HandlerTimeout:                time.Second,
		ShutdownGracePeriod:           time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, tokenDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("OPENAI_API_KEY must be set")
		},
		newGateway: func(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); !strings.Contains(got, "OPENAI_API_KEY") {
		t.Fatalf("stderr=%q", got)
	}
}

func TestRunServer_MissingDependencies(t *testing.T) {
	t.Parallel()

	if err := runServer(context.Background(), nil, tokenDeps{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

func TestRunServer_ShutsDownOnSignal(t *testing.T) {
	t.Parallel()

	var notified chan<- os.Signal
	ready := make(chan struct{})
	stopped := false
	deps := tokenDeps{
		loadConfig: func() (config.Config, error) { return testConfig(), nil },
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			notified = c
			close(ready)
		},
		signalStop: func(c chan<- os.Signal) { stopped = true },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runServer(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), deps)
	}()

	<-ready
	notified <- os.Interrupt

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not return after signal")
	}
	if !stopped {
		t.Fatal("signalStop not called")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
		HandlerTimeout:    20 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout || srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("timeouts = %v, %v", srv.ReadHeaderTimeout, srv.ReadTimeout)
	}
	if srv.WriteTimeout != 23*time.Second {
		t.Fatalf("WriteTimeout=%v", srv.WriteTimeout)
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gatewayserver.New(testConfig(), logger)

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}
