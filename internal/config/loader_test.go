package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string // empty means valid
	}{
		{
			name:    "invalid log level",
			yaml:    minimalYAML + "server:\n  log_level: verbose\n",
			wantErr: "log_level",
		},
		{
			name:    "no authentication",
			yaml:    "server:\n  listen_addr: \":8080\"\n",
			wantErr: "jwt_secret",
		},
		{
			name:    "jwt only",
			yaml:    "auth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\n",
			wantErr: "",
		},
		{
			name: "token without participant",
			yaml: `
auth:
  tokens:
    - token: abc
`,
			wantErr: "participant_id",
		},
		{
			name: "duplicate token",
			yaml: `
auth:
  tokens:
    - {token: abc, participant_id: a}
    - {token: abc, participant_id: b}
`,
			wantErr: "duplicate",
		},
		{
			name: "duplicate session policy",
			yaml: minimalYAML + `
access:
  sessions:
    - {id: s1, host: a}
    - {id: s1, host: b}
`,
			wantErr: "duplicate",
		},
		{
			name: "session policy without host",
			yaml: minimalYAML + `
access:
  sessions:
    - {id: s1}
`,
			wantErr: "host",
		},
		{
			name: "incomplete tls",
			yaml: minimalYAML + `
server:
  tls:
    cert_file: /etc/cert.pem
`,
			wantErr: "tls",
		},
		{
			name:    "confidence out of range",
			yaml:    minimalYAML + "transcript:\n  default_confidence: 1.5\n",
			wantErr: "default_confidence",
		},
		{
			name:    "enhance without llm",
			yaml:    minimalYAML + "transcript:\n  enhance: true\n",
			wantErr: "providers.llm",
		},
		{
			name: "fallback without primary",
			yaml: minimalYAML + `
providers:
  stt_fallbacks:
    - name: whisper
`,
			wantErr: "providers.stt",
		},
		{
			name:    "negative answer timeout",
			yaml:    minimalYAML + "chat:\n  answer_timeout: -1s\n",
			wantErr: "answer_timeout",
		},
		{
			name:    "sample ratio out of range",
			yaml:    minimalYAML + "telemetry:\n  trace_sample_ratio: 2\n",
			wantErr: "trace_sample_ratio",
		},
		{
			name:    "negative pool size",
			yaml:    minimalYAML + "storage:\n  max_conns: -1\n",
			wantErr: "storage.max_conns",
		},
		{
			name: "unknown provider name only warns",
			yaml: minimalYAML + `
providers:
  llm:
    name: my-custom-llm
`,
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
auth:
  tokens:
    - token: ""
transcript:
  default_confidence: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "auth.tokens[0].token", "participant_id", "default_confidence"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}
