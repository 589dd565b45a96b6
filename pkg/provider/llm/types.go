package llm

import (
	"strings"

	"github.com/MrWong99/parley/pkg/types"
)

// ModelCapabilities are the token limits of a model. The assistant sizes the
// transcript it sends so that prompt plus answer stay within ContextWindow.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int
}

// fallbackCapabilities apply to models no family rule matches. They are small
// enough that a self-hosted model rarely receives more transcript than it
// can hold.
var fallbackCapabilities = ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 4_096}

// modelFamilies is checked in order; the first prefix that matches the
// lower-cased model name wins, so more specific prefixes come first.
var modelFamilies = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{"gpt-4.1", ModelCapabilities{1_047_576, 32_768}},
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4-turbo", ModelCapabilities{128_000, 4_096}},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"o1-mini", ModelCapabilities{128_000, 65_536}},
	{"o1", ModelCapabilities{200_000, 100_000}},
	{"o3", ModelCapabilities{200_000, 100_000}},
	{"o4-mini", ModelCapabilities{200_000, 100_000}},
	{"claude-3-opus", ModelCapabilities{200_000, 4_096}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
	{"gemini", ModelCapabilities{1_048_576, 8_192}},
	{"llama3.1", ModelCapabilities{128_000, 4_096}},
	{"llama3", ModelCapabilities{8_192, 4_096}},
	{"mistral-large", ModelCapabilities{128_000, 4_096}},
	{"deepseek", ModelCapabilities{64_000, 8_192}},
}

// KnownCapabilities looks up the limits of model by family prefix. Vendor
// prefixes such as "openai/" or "models/" are ignored.
func KnownCapabilities(model string) ModelCapabilities {
	name := strings.ToLower(model)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, f := range modelFamilies {
		if strings.HasPrefix(name, f.prefix) {
			return f.caps
		}
	}
	return fallbackCapabilities
}

// EstimateTokens approximates the token count of messages at four bytes per
// token plus four tokens of framing per message.
// TODO: replace with tiktoken-go for accurate per-model token counting.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+len(m.Name)+3)/4 + 4
	}
	return total
}
