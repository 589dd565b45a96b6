// Command parley runs the Parley meeting collaboration server.
//
// Usage:
//
//	parley -config config.yaml
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/parley/pkg/provider/stt/openai"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	telemetryTimeout = 5 * time.Second
	shutdownTimeout  = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch-interval", 5*time.Second, "how often the config file is checked for changes (0 disables reloading)")
	flag.Parse()

	// The watcher does the initial load. Its callback fires only from
	// Watcher.Run, which starts after application is assigned.
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(old, new)
	}, config.WithInterval(*watchInterval))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	level := new(slog.LevelVar)
	level.Set(app.LevelFor(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	providers, err := buildProviders(cfg, providerRegistry())
	if err != nil {
		slog.Error("provider setup failed", "err", err)
		return 1
	}
	logStartup(cfg, *configPath)

	opts := []app.Option{app.WithLogLevel(level)}
	if *watchInterval > 0 {
		opts = append(opts, app.WithRunner(watcher.Run))
	}
	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("application init failed", "err", err)
		return 1
	}

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("server stopped with error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("shutting down", "timeout", shutdownTimeout)
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	return 0
}

// providerRegistry returns a registry holding every built-in provider.
func providerRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerLLMs(reg.LLM)
	registerSTTs(reg.STT)
	slog.Debug("providers registered", "llm", reg.LLM.Names(), "stt", reg.STT.Names())
	return reg
}

func registerLLMs(f *config.Factories[llm.Provider]) {
	f.Register("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if e.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(e.BaseURL))
		}
		if org := e.OptString("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if project := e.OptString("project"); project != "" {
			opts = append(opts, oaillm.WithProject(project))
		}
		if d := e.OptDuration("timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		if _, ok := e.Options["max_retries"]; ok {
			opts = append(opts, oaillm.WithMaxRetries(int(e.OptFloat("max_retries"))))
		}
		return oaillm.New(e.APIKey, e.Model, opts...)
	})

	for _, vendor := range anyllm.Supported() {
		if vendor == "openai" {
			continue
		}
		f.Register(vendor, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(vendor, e.Model, opts...)
		})
	}
}

func registerSTTs(f *config.Factories[stt.Provider]) {
	f.Register("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if lang := e.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		if d := e.OptDuration("timeout"); d > 0 {
			opts = append(opts, deepgram.WithHTTPClient(&http.Client{Timeout: d}))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	f.Register("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := e.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if _, ok := e.Options["silence_threshold"]; ok {
			opts = append(opts, whisper.WithSilenceThreshold(e.OptFloat("silence_threshold")))
		}
		if d := e.OptDuration("timeout"); d > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: d}))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	// Groq serves the OpenAI transcription API under its own base URL.
	for name, defaultURL := range map[string]string{"openai": "", "groq": groqBaseURL} {
		f.Register(name, func(e config.ProviderEntry) (stt.Provider, error) {
			var opts []oaistt.Option
			if url := cmp.Or(e.BaseURL, defaultURL); url != "" {
				opts = append(opts, oaistt.WithBaseURL(url))
			}
			if e.Model != "" {
				opts = append(opts, oaistt.WithModel(e.Model))
			}
			if d := e.OptDuration("timeout"); d > 0 {
				opts = append(opts, oaistt.WithTimeout(d))
			}
			if temp := e.OptFloat("temperature"); temp > 0 {
				opts = append(opts, oaistt.WithTemperature(temp))
			}
			return oaistt.New(e.APIKey, opts...)
		})
	}
}

// buildProviders constructs the configured provider chains.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	llms, llmErr := reg.LLM.Chain(cfg.Providers.LLM, cfg.Providers.LLMFallbacks)
	stts, sttErr := reg.STT.Chain(cfg.Providers.STT, cfg.Providers.STTFallbacks)
	if err := errors.Join(llmErr, sttErr); err != nil {
		return nil, err
	}

	ps := &app.Providers{}
	for i, b := range llms {
		if i == 0 {
			ps.LLM = b.Provider
			continue
		}
		ps.LLMFallbacks = append(ps.LLMFallbacks, app.NamedLLM{Name: b.Name, Provider: b.Provider})
	}
	for i, b := range stts {
		if i == 0 {
			ps.STT = b.Provider
			continue
		}
		ps.STTFallbacks = append(ps.STTFallbacks, app.NamedSTT{Name: b.Name, Provider: b.Provider})
	}
	return ps, nil
}

func logStartup(cfg *config.Config, path string) {
	storage := "memory"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	}
	slog.Info("parley starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"llm", providerLabel(cfg.Providers.LLM, len(cfg.Providers.LLMFallbacks)),
		"stt", providerLabel(cfg.Providers.STT, len(cfg.Providers.STTFallbacks)),
		"storage", storage,
		"static_tokens", len(cfg.Auth.Tokens),
		"session_policies", len(cfg.Access.Sessions),
	)
}

// providerLabel renders e.g. "openai/gpt-4o-mini+1" for a primary with one
// fallback.
func providerLabel(e config.ProviderEntry, fallbacks int) string {
	if e.Name == "" {
		return "off"
	}
	label := e.Name
	if e.Model != "" {
		label += "/" + e.Model
	}
	if fallbacks > 0 {
		label += fmt.Sprintf("+%d", fallbacks)
	}
	return label
}
