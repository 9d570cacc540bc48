package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/tranceguide/pkg/gateway/config"
	"github.com/vango-go/tranceguide/pkg/gateway/lifecycle"
)

func readyConfig() config.Config {
	return config.Config{
		AuthMode:                      config.AuthModeOptional,
		OpenAIAPIKey:                  "sk-test",
		RealtimeModel:                 "gpt-realtime",
		MaxBodyBytes:                  1,
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		HandlerTimeout:                time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func serveReady(t *testing.T, h ReadyHandler) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return rr.Code, resp
}

func TestReadyHandler(t *testing.T) {
	code, resp := serveReady(t, ReadyHandler{Config: readyConfig()})
	if code != http.StatusOK || resp["ok"] != true || resp["model"] != "gpt-realtime" {
		t.Fatalf("status=%d resp=%v", code, resp)
	}
}

func TestReadyHandler_RequiredAuthEmptyKeys_NotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.AuthMode = config.AuthModeRequired
	code, resp := serveReady(t, ReadyHandler{Config: cfg})
	if code != http.StatusInternalServerError || resp["ok"] != false {
		t.Fatalf("status=%d resp=%v", code, resp)
	}
	if issues, _ := resp["issues"].([]any); len(issues) != 1 {
		t.Fatalf("issues=%v", resp["issues"])
	}
}

func TestReadyHandler_Draining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	code, resp := serveReady(t, ReadyHandler{Config: readyConfig(), Lifecycle: lc})
	if code != http.StatusServiceUnavailable || resp["ok"] != false || resp["draining"] != true {
		t.Fatalf("status=%d resp=%v", code, resp)
	}
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestNotFoundHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	if e := decodeEnvelope(t, rr); e.Type != "not_found_error" {
		t.Fatalf("type=%q", e.Type)
	}
}
