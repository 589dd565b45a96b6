// Package app wires all Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and WebSocket traffic until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithPolicyStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/access"
	"github.com/MrWong99/parley/internal/assist"
	"github.com/MrWong99/parley/internal/chat"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/gateway"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/types"
)

// NamedLLM is a fallback LLM provider with the name used in logs and metrics.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// NamedSTT is a fallback STT provider with the name used in logs and metrics.
type NamedSTT struct {
	Name     string
	Provider stt.Provider
}

// Providers holds the external collaborators. Nil means the provider is not
// configured. Populated by main.go via the config registry.
type Providers struct {
	LLM          llm.Provider
	LLMFallbacks []NamedLLM
	STT          stt.Provider
	STTFallbacks []NamedSTT
}

// App owns all subsystem lifetimes of the Parley server.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store    memory.Store
	policies memory.PolicyStore
	pinger   health.Pinger
	probes   *health.Handler
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	authz    *access.PolicyAuthorizer
	llm      *resilience.LLMFallback
	stt      *resilience.STTFallback
	coord    *session.Coordinator
	relay    *chat.Relay
	gateway  *gateway.Server
	handler  http.Handler

	metricsHandler http.Handler
	runners        []func(context.Context) error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session record store instead of creating one from config.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPolicyStore injects an access policy store instead of creating one from config.
func WithPolicyStore(s memory.PolicyStore) Option {
	return func(a *App) { a.policies = s }
}

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the level variable of the process logger to the app so
// configuration reloads can change it.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithMetricsHandler replaces the /metrics handler. Default: promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithRunner adds a background task that [App.Run] runs alongside the HTTP
// server, such as a config watcher. It should return when its context ends.
func WithRunner(fn func(ctx context.Context) error) Option {
	return func(a *App) { a.runners = append(a.runners, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
	}
	a.logLevel.Set(LevelFor(cfg.Server.LogLevel))
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Access control ────────────────────────────────────────────────
	authn, err := a.initAccess(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init access: %w", err)
	}

	// ── 3. Resilient providers ───────────────────────────────────────────
	a.initProviders()

	// ── 4. Session coordinator + chat relay ──────────────────────────────
	if err := a.initSessions(authn); err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage connects PostgreSQL or falls back to the in-memory store.
func (a *App) initStorage(ctx context.Context) error {
	if a.store != nil && a.policies != nil {
		if p, ok := a.store.(health.Pinger); ok {
			a.pinger = p
		}
		return nil
	}

	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn,
			postgres.WithMaxConns(a.cfg.Storage.MaxConns),
			postgres.WithApplicationName(a.cfg.Telemetry.ServiceName),
		)
		if err != nil {
			return err
		}
		a.pinger = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		if a.store == nil {
			a.store = pg
		}
		if a.policies == nil {
			a.policies = pg
		}
		slog.Info("using postgres session store")
		return nil
	}

	mem := memory.NewMemStore()
	if a.store == nil {
		a.store = mem
	}
	if a.policies == nil {
		a.policies = mem
	}
	slog.Info("using in-memory session store")
	return nil
}

// initAccess builds the authenticator chain and seeds the access policies.
func (a *App) initAccess(ctx context.Context) (access.Authenticator, error) {
	var chain access.Chain
	if secret := a.cfg.Auth.JWTSecret; secret != "" {
		var opts []access.JWTOption
		if iss := a.cfg.Auth.JWTIssuer; iss != "" {
			opts = append(opts, access.WithIssuer(iss))
		}
		jwtAuth, err := access.NewJWTAuthenticator(secret, opts...)
		if err != nil {
			return nil, err
		}
		chain = append(chain, jwtAuth)
	}
	if len(a.cfg.Auth.Tokens) > 0 {
		chain = append(chain, access.NewTokenAuthenticator(staticTokens(a.cfg.Auth.Tokens)))
	}
	if len(chain) == 0 {
		return nil, errors.New("no authenticator configured")
	}

	a.authz = access.NewPolicyAuthorizer(a.policies, a.cfg.Access.DefaultPublic)
	if err := access.SeedPolicies(ctx, a.policies, sessionPolicies(a.cfg.Access.Sessions)); err != nil {
		return nil, err
	}
	return chain, nil
}

// initProviders wraps the configured providers in circuit-breaking
// fallback groups.
func (a *App) initProviders() {
	fbCfg := resilience.FallbackConfig{
		OnAttempt: func(ctx context.Context, kind, provider string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
				a.metrics.RecordProviderError(ctx, provider, kind)
			}
			a.metrics.RecordProviderRequest(ctx, provider, kind, status)
		},
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider circuit changed state", "provider", name, "from", from.String(), "to", to.String())
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}

	if p := a.providers.LLM; p != nil {
		a.llm = resilience.NewLLMFallback(p, a.cfg.Providers.LLM.Name, fbCfg)
		for _, fb := range a.providers.LLMFallbacks {
			a.llm.AddFallback(fb.Name, fb.Provider)
		}
	}
	if p := a.providers.STT; p != nil {
		a.stt = resilience.NewSTTFallback(p, a.cfg.Providers.STT.Name, fbCfg)
		for _, fb := range a.providers.STTFallbacks {
			a.stt.AddFallback(fb.Name, fb.Provider)
		}
	}
}

// initSessions builds the hub, the chat relay and the coordinator that share
// one room registry and one session sequencer.
func (a *App) initSessions(authn access.Authenticator) error {
	reg := room.NewRegistry()
	seq := room.NewSequencer()
	hub := session.NewHub(reg)

	relayOpts := []chat.Option{chat.WithMetrics(a.metrics)}
	if d := a.cfg.Chat.AnswerTimeout; d > 0 {
		relayOpts = append(relayOpts, chat.WithAnswerTimeout(d))
	}
	var assistant *assist.Assistant
	if a.llm != nil {
		assistant = assist.New(a.llm)
		relayOpts = append(relayOpts, chat.WithAnswerer(assistant))
	}
	a.relay = chat.NewRelay(a.store, seq, hub, relayOpts...)

	cfg := session.Config{
		Hub:           hub,
		Sequencer:     seq,
		Store:         a.store,
		Authenticator: authn,
		Authorizer:    a.authz,
		Chat:          a.relay,
		Metrics:       a.metrics,
		Settings:      transcriptSettings(a.cfg.Transcript),
	}
	if a.stt != nil {
		cfg.Transcriber = a.stt
	}
	if assistant != nil {
		cfg.Enhancer = assistant
		cfg.Insights = assistant
	}
	coord, err := session.New(cfg)
	if err != nil {
		return err
	}
	a.coord = coord
	return nil
}

// initHTTP assembles the routes and wraps them in the observability middleware.
func (a *App) initHTTP() {
	var gwOpts []gateway.Option
	if o := a.cfg.Server.AllowedOrigins; len(o) > 0 {
		gwOpts = append(gwOpts, gateway.WithOriginPatterns(o...))
	}
	if d := a.cfg.Server.WriteTimeout; d > 0 {
		gwOpts = append(gwOpts, gateway.WithWriteTimeout(d))
	}
	if d := a.cfg.Server.PingInterval; d > 0 {
		gwOpts = append(gwOpts, gateway.WithPingInterval(d))
	}
	a.gateway = gateway.New(a.coord, gwOpts...)

	var checkers []health.Checker
	if a.pinger != nil {
		checkers = append(checkers, health.PingChecker("store", a.pinger))
	}
	if a.llm != nil {
		checkers = append(checkers, health.FallbackChecker("llm", a.llm.Status))
	}
	if a.stt != nil {
		checkers = append(checkers, health.FallbackChecker("stt", a.stt.Status))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", a.gateway)
	a.probes = health.New(checkers...)
	a.probes.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)

	a.handler = observe.Middleware(a.metrics)(mux)
}

// Handler returns the root HTTP handler serving /ws, /healthz, /readyz and
// /metrics.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *session.Coordinator {
	return a.coord
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on cfg.Server.ListenAddr together with every registered
// runner until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by http.Server.
		if err := a.gateway.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown incomplete", "err", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	for _, run := range a.runners {
		g.Go(func() error { return run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// log level, access policies and transcript options. Other changes are
// logged as requiring a restart. Suitable as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		a.logLevel.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AccessChanged {
		if d.DefaultChanged {
			a.authz.SetDefaultPublic(d.DefaultPublic)
		}
		if err := access.SeedPolicies(context.Background(), a.policies, sessionPolicies(new.Access.Sessions)); err != nil {
			slog.Error("failed to apply access policies", "err", err)
		}
		for _, c := range d.AccessChanges {
			if c.Removed {
				slog.Warn("removed session policy stays in effect until the store is cleared", "session_id", c.SessionID)
			}
		}
		slog.Info("access policies updated", "changes", len(d.AccessChanges))
	}
	if d.TranscriptChanged {
		a.coord.SetSettings(transcriptSettings(new.Transcript))
		slog.Info("transcript settings updated",
			"enhance", new.Transcript.Enhance,
			"correct_names", new.Transcript.CorrectNames,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes require a restart", "sections", d.RestartRequired)
	}
	a.cfg = new
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. Pending AI answers are cancelled and
// their fallback answers stored before the store closes. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.probes.Drain()

		if gwErr := a.gateway.Shutdown(ctx); gwErr != nil {
			slog.Warn("gateway shutdown incomplete", "err", gwErr)
		}
		if relayErr := a.relay.Close(); relayErr != nil {
			slog.Warn("chat relay close error", "err", relayErr)
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				err = ctx.Err()
				return
			}
			if cerr := closer(); cerr != nil {
				slog.Warn("closer error", "index", i, "err", cerr)
			}
		}
	})
	return err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// LevelFor maps a configured log level to its slog level. Unknown and empty
// values map to info.
func LevelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func staticTokens(in []config.TokenConfig) []access.StaticToken {
	out := make([]access.StaticToken, 0, len(in))
	for _, t := range in {
		name := t.DisplayName
		if name == "" {
			name = t.ParticipantID
		}
		out = append(out, access.StaticToken{
			Token:       t.Token,
			Participant: types.Participant{ID: t.ParticipantID, DisplayName: name},
		})
	}
	return out
}

func sessionPolicies(in []config.SessionAccess) []memory.SessionPolicy {
	out := make([]memory.SessionPolicy, 0, len(in))
	for _, s := range in {
		out = append(out, memory.SessionPolicy{
			SessionID: s.ID,
			HostID:    s.Host,
			Public:    s.Public,
			Invited:   s.Invited,
		})
	}
	return out
}

func transcriptSettings(tc config.TranscriptConfig) session.Settings {
	return session.Settings{
		Enhance:           tc.Enhance,
		CorrectNames:      tc.CorrectNames,
		DefaultLanguage:   tc.DefaultLanguage,
		DefaultConfidence: tc.DefaultConfidence,
	}
}
