package llm

import (
	"testing"

	"github.com/MrWong99/parley/pkg/types"
)

func TestKnownCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  ModelCapabilities
	}{
		{"gpt-4o-mini", ModelCapabilities{128_000, 16_384}},
		{"GPT-4o", ModelCapabilities{128_000, 16_384}},
		{"gpt-4.1-nano", ModelCapabilities{1_047_576, 32_768}},
		{"gpt-4", ModelCapabilities{8_192, 4_096}},
		{"o1-mini", ModelCapabilities{128_000, 65_536}},
		{"o3-mini", ModelCapabilities{200_000, 100_000}},
		{"claude-3-opus-20240229", ModelCapabilities{200_000, 4_096}},
		{"claude-3-5-haiku-latest", ModelCapabilities{200_000, 8_192}},
		{"models/gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
		{"gemini-2.0-flash", ModelCapabilities{1_048_576, 8_192}},
		{"llama3.1:8b", ModelCapabilities{128_000, 4_096}},
		{"my-custom-model", fallbackCapabilities},
		{"", fallbackCapabilities},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			if got := KnownCapabilities(tt.model); got != tt.want {
				t.Errorf("KnownCapabilities(%q) = %+v, want %+v", tt.model, got, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		messages []types.Message
		want     int
	}{
		{"empty", nil, 0},
		// 11 bytes round up to 3 tokens, plus 4 framing.
		{"single", []types.Message{{Role: RoleUser, Content: "Hello world"}}, 7},
		// "Hello world" + "Alice" is 16 bytes, 4 tokens.
		{"named", []types.Message{{Role: RoleUser, Content: "Hello world", Name: "Alice"}}, 8},
		{"two", []types.Message{
			{Role: RoleSystem, Content: "abcd"},
			{Role: RoleUser, Content: "abcdefgh"},
		}, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EstimateTokens(tt.messages); got != tt.want {
				t.Errorf("EstimateTokens = %d, want %d", got, tt.want)
			}
		})
	}
}
