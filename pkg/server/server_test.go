package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/nimbus/internal/testutil"
	"mercator-hq/nimbus/pkg/nimbus"
	evstorage "mercator-hq/nimbus/pkg/evidence/storage"
	queuemem "mercator-hq/nimbus/pkg/queue/memory"
	"mercator-hq/nimbus/pkg/storage/memory"
)

func newTestService(t *testing.T) *nimbus.Service {
	t.Helper()

	cfg := testutil.Config(t)
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Telemetry.Metrics.Enabled = false

	svc, err := nimbus.New(context.Background(), cfg, nimbus.Options{
		Version:     "test",
		Storage:     memory.New(),
		Queue:       queuemem.New(queuemem.Config{}),
		KeyProvider: testutil.Keyring(t),
		Evidence:    evstorage.NewMemoryStorage(),
	})
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc
}

func newTestServer(t *testing.T) (*Server, *nimbus.Service) {
	t.Helper()
	svc := newTestService(t)
	s, err := New(svc, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	testutil.AssertNoError(t, err)
	return s, svc
}

func TestServer_Access(t *testing.T) {
	s, svc := newTestServer(t)
	ctx := context.Background()
	body := bytes.Repeat([]byte("frame"), 1000)

	pro, err := svc.Upload(ctx, nimbus.Upload{Name: "a.mp4", Data: body, Tier: "pro"})
	testutil.AssertNoError(t, err)
	free, err := svc.Upload(ctx, nimbus.Upload{Name: "b.mp4", Data: body, Tier: "free"})
	testutil.AssertNoError(t, err)

	proTok, err := svc.GenerateAccessToken(ctx, pro.ObjectID, nil, "consumer-1")
	testutil.AssertNoError(t, err)
	freeTok, err := svc.GenerateAccessToken(ctx, free.ObjectID, nil, "consumer-1")
	testutil.AssertNoError(t, err)

	tests := []struct {
		name      string
		objectID  string
		token     string
		wantCode  int
		wantLimit string
	}{
		{"pro object", pro.ObjectID, proTok.Value, http.StatusOK, ""},
		{"bandwidth limited", free.ObjectID, freeTok.Value, http.StatusOK, "10MB/s"},
		{"token for another object", pro.ObjectID, freeTok.Value, http.StatusForbidden, ""},
		{"missing token", pro.ObjectID, "", http.StatusUnauthorized, ""},
	}

	h := s.Handler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/objects/" + tt.objectID + "/access"
			if tt.token != "" {
				target += "?token=" + tt.token
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if rec.Header().Get(RequestIDHeader) == "" {
				t.Error("missing request id header")
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if !bytes.Equal(rec.Body.Bytes(), body) {
				t.Errorf("body length = %d, want %d", rec.Body.Len(), len(body))
			}
			if got := rec.Header().Get("X-Bandwidth-Limit"); got != tt.wantLimit {
				t.Errorf("X-Bandwidth-Limit = %q, want %q", got, tt.wantLimit)
			}
			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q", got)
			}
		})
	}
}

func TestServer_AccessDeletedObject(t *testing.T) {
	s, svc := newTestServer(t)
	ctx := context.Background()

	up, err := svc.Upload(ctx, nimbus.Upload{Name: "a.mp4", Data: []byte("x"), Tier: "pro"})
	testutil.AssertNoError(t, err)
	tok, err := svc.GenerateAccessToken(ctx, up.ObjectID, nil, "")
	testutil.AssertNoError(t, err)
	_, err = svc.DeleteObject(ctx, up.ObjectID, "")
	testutil.AssertNoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/objects/"+up.ObjectID+"/access", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	for _, path := range []string{"/api/v1/health", "/health", "/ready"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
			}
			var got map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if got["status"] == "" {
				t.Error("missing status")
			}
		})
	}
}

func TestServer_Serve(t *testing.T) {
	s, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	testutil.AssertNoError(t, err)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		testutil.AssertNoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	testutil.AssertNoError(t, s.Shutdown(context.Background()))
}

func TestNew_RequiresService(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Error("New(nil) error = nil")
	}
}
