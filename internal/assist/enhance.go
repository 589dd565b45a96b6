package assist

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/types"
)

const enhanceSystemPrompt = `You clean up speech recognition output from a meeting.
Fix punctuation, capitalisation and obvious recognition errors. Do not add,
remove or reorder content and do not answer questions in the text. Reply with
the corrected text only.`

// Enhance returns a cleaned-up version of text. Replies that drop or reorder
// too much of the original are rejected and text is returned unchanged.
// Provider failures are returned as errors together with the original text.
func (a *Assistant) Enhance(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: enhanceSystemPrompt,
		Messages:     []types.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  a.enhanceTemp,
		MaxTokens:    2*len(strings.Fields(text)) + 16,
	})
	if err != nil {
		return text, fmt.Errorf("assist: enhance: %w", err)
	}
	if resp == nil || resp.Truncated {
		return text, nil
	}

	enhanced := stripFences(resp.Content)
	if enhanced == "" || retention(text, enhanced) < a.minRetention {
		return text, nil
	}
	return enhanced, nil
}

// stripFences removes markdown code fences and wrapping quotes some models
// put around plain replies.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		if i := strings.IndexByte(after, '\n'); i >= 0 {
			after = after[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(after), "```")
	}
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// retention reports the share of original's words that survive, in order, in
// enhanced. Comparison ignores case and surrounding punctuation.
func retention(original, enhanced string) float64 {
	a := wordKeys(original)
	if len(a) == 0 {
		return 1
	}
	return float64(lcsLen(a, wordKeys(enhanced))) / float64(len(a))
}

func wordKeys(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		k := strings.ToLower(strings.Trim(f, ".,;:!?\"'()[]"))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// lcsLen returns the length of the longest common subsequence of a and b
// using two rolling rows.
func lcsLen(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
