package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/memory"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/protocol"
)

// testConfig returns a minimal config with two static tokens and one
// private session.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Auth: config.AuthConfig{
			Tokens: []config.TokenConfig{
				{Token: "tok-alice", ParticipantID: "alice", DisplayName: "Alice"},
				{Token: "tok-bob", ParticipantID: "bob"},
			},
		},
		Access: config.AccessConfig{
			Sessions: []config.SessionAccess{
				{ID: "standup", Host: "alice", Invited: []string{"bob"}},
			},
		},
		Transcript: config.TranscriptConfig{DefaultLanguage: "en-US", DefaultConfidence: 0.9},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) (*app.App, *memory.MemStore) {
	t.Helper()
	store := memory.NewMemStore()
	opts = append([]app.Option{
		app.WithStore(store),
		app.WithPolicyStore(store),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		})),
	}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a, store
}

func TestNew_SeedsPolicies(t *testing.T) {
	t.Parallel()

	_, store := newTestApp(t, testConfig(), nil)

	p, err := store.GetPolicy(context.Background(), "standup")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if p.HostID != "alice" || len(p.Invited) != 1 || p.Invited[0] != "bob" {
		t.Errorf("seeded policy = %+v", p)
	}
}

func TestNew_RequiresAuthenticator(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{}
	store := memory.NewMemStore()
	_, err := app.New(context.Background(), cfg, nil, app.WithStore(store), app.WithPolicyStore(store))
	if err == nil {
		t.Fatal("expected error without authenticator, got nil")
	}
}

func TestHandler_Endpoints(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers.LLM = config.ProviderEntry{Name: "openai"}
	cfg.Providers.STT = config.ProviderEntry{Name: "whisper"}
	a, _ := newTestApp(t, cfg, &app.Providers{
		LLM: &llmmock.Provider{},
		STT: &sttmock.Provider{},
	})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusOK, `"llm":{"status":"ok"`},
		{"/metrics", http.StatusOK, "# metrics"},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestHandler_WebSocketJoin(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, testConfig(), nil)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=tok-bob"
	ws, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	raw, _ := json.Marshal(protocol.JoinSession{SessionID: "standup"})
	if err := wsjson.Write(ctx, ws, protocol.Envelope{Type: protocol.TypeJoinSession, Data: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var seen []string
	for {
		var ev struct {
			Type string `json:"type"`
		}
		if err := wsjson.Read(ctx, ws, &ev); err != nil {
			t.Fatalf("read (seen %v): %v", seen, err)
		}
		seen = append(seen, ev.Type)
		if ev.Type == protocol.EventSessionJoined {
			break
		}
	}
	if seen[0] != protocol.EventConnected {
		t.Errorf("first event = %q, want %q", seen[0], protocol.EventConnected)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	old := testConfig()
	a, store := newTestApp(t, old, nil, app.WithLogLevel(level))

	if level.Level() != slog.LevelInfo {
		t.Fatalf("initial level = %v, want info", level.Level())
	}

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Access.Sessions = append(updated.Access.Sessions, config.SessionAccess{ID: "retro", Host: "bob", Public: true})
	updated.Transcript.CorrectNames = true
	updated.Server.ListenAddr = ":9999"

	a.ApplyConfig(old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	p, err := store.GetPolicy(context.Background(), "retro")
	if err != nil {
		t.Fatalf("GetPolicy(retro): %v", err)
	}
	if p.HostID != "bob" || !p.Public {
		t.Errorf("retro policy = %+v", p)
	}
	if s := a.Coordinator().Settings(); !s.CorrectNames {
		t.Errorf("settings = %+v, want CorrectNames", s)
	}
}

func TestLevelFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.LevelFor(tt.in); got != tt.want {
			t.Errorf("LevelFor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// A second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"draining"`) {
		t.Errorf("readyz after shutdown = %d %s, want 503 draining", rec.Code, rec.Body.String())
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	// Reserve a free port for the server.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	cfg := testConfig()
	cfg.Server.ListenAddr = addr

	runnerStarted := make(chan struct{})
	a, _ := newTestApp(t, cfg, nil, app.WithRunner(func(ctx context.Context) error {
		close(runnerStarted)
		<-ctx.Done()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-runnerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not started")
	}

	// Wait for the listener to come up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_RunnerErrorStopsRun(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	a, _ := newTestApp(t, testConfig(), nil, app.WithRunner(func(context.Context) error {
		return errBoom
	}))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, errBoom) {
			t.Errorf("Run returned %v, want %v", err, errBoom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after runner failure")
	}
}
