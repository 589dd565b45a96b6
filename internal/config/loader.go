package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "openai", "groq"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout %s must not be negative", cfg.Server.WriteTimeout))
	}
	if cfg.Server.PingInterval < 0 {
		errs = append(errs, fmt.Errorf("server.ping_interval %s must not be negative", cfg.Server.PingInterval))
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		slog.Warn("server.allowed_origins is empty; only same-origin WebSocket upgrades will be accepted")
	}

	// Auth
	if cfg.Auth.JWTSecret == "" && len(cfg.Auth.Tokens) == 0 {
		errs = append(errs, errors.New("auth: either jwt_secret or at least one static token is required"))
	}
	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 32 {
		slog.Warn("auth.jwt_secret is shorter than 32 bytes")
	}
	tokensSeen := make(map[string]int, len(cfg.Auth.Tokens))
	for i, tok := range cfg.Auth.Tokens {
		prefix := fmt.Sprintf("auth.tokens[%d]", i)
		if tok.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token is required", prefix))
		} else {
			if prev, ok := tokensSeen[tok.Token]; ok {
				errs = append(errs, fmt.Errorf("%s.token is a duplicate of auth.tokens[%d]", prefix, prev))
			}
			tokensSeen[tok.Token] = i
		}
		if tok.ParticipantID == "" {
			errs = append(errs, fmt.Errorf("%s.participant_id is required", prefix))
		}
	}

	// Access policies
	sessionsSeen := make(map[string]int, len(cfg.Access.Sessions))
	for i, s := range cfg.Access.Sessions {
		prefix := fmt.Sprintf("access.sessions[%d]", i)
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := sessionsSeen[s.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of access.sessions[%d]", prefix, s.ID, prev))
			}
			sessionsSeen[s.ID] = i
		}
		if s.Host == "" {
			errs = append(errs, fmt.Errorf("%s.host is required", prefix))
		}
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; chat questions will not be answered")
		if cfg.Transcript.Enhance {
			errs = append(errs, errors.New("transcript.enhance requires providers.llm"))
		}
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; audio-chunk commands will be rejected")
	}

	// Storage
	if cfg.Storage.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("storage.max_conns %d must not be negative", cfg.Storage.MaxConns))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; session records are kept in memory only")
	}

	// Transcript
	if c := cfg.Transcript.DefaultConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("transcript.default_confidence %.2f is out of range [0, 1]", c))
	}
	if l := cfg.Transcript.DefaultLanguage; l != "" && strings.ContainsAny(l, " \t") {
		errs = append(errs, fmt.Errorf("transcript.default_language %q is not a language tag", l))
	}

	// Chat
	if cfg.Chat.AnswerTimeout < 0 {
		errs = append(errs, fmt.Errorf("chat.answer_timeout %s must not be negative", cfg.Chat.AnswerTimeout))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be within [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
