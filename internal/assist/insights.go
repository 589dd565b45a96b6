package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/types"
)

// FallbackSummary is the summary text of [FallbackInsights].
const FallbackSummary = "Unable to generate meeting summary at this time."

const insightsSystemPrompt = `You analyse meeting transcripts. Reply with a single JSON object and
nothing else, using this structure:

{
  "summary": "two or three sentences",
  "keyPoints": ["key points discussed"],
  "actionItems": [{"task": "what", "assignee": "who, if named", "priority": "high|medium|low"}],
  "topics": ["main topics"],
  "decisions": ["decisions made"],
  "questions": ["unresolved questions"]
}

Only report what the transcript supports. Use empty arrays when nothing fits.`

// ErrEmptyTranscript is returned by [Assistant.Summarise] when there is no
// transcript text to summarise.
var ErrEmptyTranscript = errors.New("assist: empty transcript")

// Summarise asks the model for structured insights into transcript. The
// oldest words are dropped when the transcript does not fit the context
// window. A reply that is not valid JSON is an error.
func (a *Assistant) Summarise(ctx context.Context, transcript string) (types.Insights, error) {
	transcript = a.fitTranscript("", strings.TrimSpace(transcript))
	if transcript == "" {
		return types.Insights{}, ErrEmptyTranscript
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: insightsSystemPrompt,
		Messages:     []types.Message{{Role: llm.RoleUser, Content: transcript}},
		Temperature:  a.insightsTemp,
		MaxTokens:    a.answerTokens * 2,
	})
	if err != nil {
		return types.Insights{}, fmt.Errorf("assist: summarise: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return types.Insights{}, ErrEmptyAnswer
	}

	var in types.Insights
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &in); err != nil {
		return types.Insights{}, fmt.Errorf("assist: summarise: parse reply: %w", err)
	}
	return normalise(in), nil
}

// FallbackInsights is sent in place of a summary the model could not
// produce.
func FallbackInsights() types.Insights {
	return normalise(types.Insights{Summary: FallbackSummary})
}

// normalise fills defaults and replaces nil lists so every field encodes as
// a JSON array.
func normalise(in types.Insights) types.Insights {
	in.Summary = strings.TrimSpace(in.Summary)
	if in.Summary == "" {
		in.Summary = "Meeting summary not available."
	}
	in.KeyPoints = nonBlank(in.KeyPoints)
	in.Topics = nonBlank(in.Topics)
	in.Decisions = nonBlank(in.Decisions)
	in.Questions = nonBlank(in.Questions)

	items := make([]types.ActionItem, 0, len(in.ActionItems))
	for _, it := range in.ActionItems {
		it.Task = strings.TrimSpace(it.Task)
		if it.Task == "" {
			continue
		}
		it.Assignee = strings.TrimSpace(it.Assignee)
		switch p := strings.ToLower(strings.TrimSpace(it.Priority)); p {
		case "high", "low":
			it.Priority = p
		default:
			it.Priority = "medium"
		}
		items = append(items, it)
	}
	in.ActionItems = items
	return in
}

func nonBlank(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return slices.Clip(out)
}
