package assist

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/types"
)

const answerSystemPrompt = `You are an assistant embedded in a live meeting.
Participants ask you questions in the meeting chat. Answer using the meeting
transcript below when it is relevant, and say so plainly when the transcript
does not contain the answer. Keep replies short enough to read in a chat
window.

Meeting transcript so far:
%s`

// Answer asks the model to respond to question with transcript as context.
// When the transcript does not fit the model's context window, its oldest
// words are dropped. A reply cut off at the token limit ends in an ellipsis.
func (a *Assistant) Answer(ctx context.Context, question, transcript string) (Answer, error) {
	question = strings.TrimSpace(question)
	transcript = a.fitTranscript(question, transcript)
	if transcript == "" {
		transcript = "(nothing has been said yet)"
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(answerSystemPrompt, transcript),
		Messages:     []types.Message{{Role: llm.RoleUser, Content: question}},
		Temperature:  a.answerTemp,
		MaxTokens:    a.answerTokens,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("assist: answer: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Answer{}, ErrEmptyAnswer
	}
	text := strings.TrimSpace(resp.Content)
	if resp.Truncated {
		text += " …"
	}
	return Answer{Text: text, Confidence: AnswerConfidence}, nil
}

// fitTranscript trims the head of transcript until the prompt fits the
// provider's context window, leaving room for the answer.
func (a *Assistant) fitTranscript(question, transcript string) string {
	window := a.llm.Capabilities().ContextWindow
	if window <= 0 || transcript == "" {
		return transcript
	}
	budget := window - a.answerTokens - promptOverheadTokens
	if n, err := a.llm.CountTokens([]types.Message{{Role: llm.RoleUser, Content: question}}); err == nil {
		budget -= n
	}
	if budget <= 0 {
		return ""
	}

	words := strings.Fields(transcript)
	for range 8 {
		n, err := a.llm.CountTokens([]types.Message{{Role: llm.RoleSystem, Content: strings.Join(words, " ")}})
		if err != nil || n <= budget {
			break
		}
		keep := len(words) * budget / n
		if keep >= len(words) {
			keep = len(words) - 1
		}
		if keep <= 0 {
			return ""
		}
		words = words[len(words)-keep:]
	}
	return strings.Join(words, " ")
}
