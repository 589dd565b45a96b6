// Package assist implements the meeting assistant: answering questions asked
// in session chat from the live transcript, summarising a meeting into
// structured insights, and optionally cleaning up recognised speech before it
// is merged into the transcript.
//
// Both operations are backed by an [llm.Provider]. The assistant never holds
// session state; callers pass the transcript text they want considered.
package assist

import (
	"errors"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

const (
	// AnswerConfidence is reported for every answer the model produced.
	AnswerConfidence = 0.9

	defaultAnswerTokens  = 500
	defaultAnswerTemp    = 0.7
	defaultEnhanceTemp   = 0.1
	defaultInsightsTemp  = 0.3
	defaultMinRetention  = 0.6
	promptOverheadTokens = 64
)

// ErrEmptyAnswer is returned when the model responds with no text.
var ErrEmptyAnswer = errors.New("assist: empty answer")

// Answer is the assistant's reply to a question.
type Answer struct {
	Text       string
	Confidence float64
}

// Assistant answers questions and enhances fragment text. It is safe for
// concurrent use.
type Assistant struct {
	llm          llm.Provider
	answerTokens int
	answerTemp   float64
	enhanceTemp  float64
	insightsTemp float64
	minRetention float64
}

// Option is a functional option for [Assistant].
type Option func(*Assistant)

// WithAnswerTokens caps the length of generated answers. Default: 500.
func WithAnswerTokens(n int) Option {
	return func(a *Assistant) {
		a.answerTokens = n
	}
}

// WithAnswerTemperature sets the sampling temperature for answers.
// Default: 0.7.
func WithAnswerTemperature(t float64) Option {
	return func(a *Assistant) {
		a.answerTemp = t
	}
}

// WithMinRetention sets the share of original words an enhanced fragment
// must keep, in order, for the enhancement to be accepted. Default: 0.6.
func WithMinRetention(r float64) Option {
	return func(a *Assistant) {
		a.minRetention = r
	}
}

// New returns an [Assistant] backed by provider.
func New(provider llm.Provider, opts ...Option) *Assistant {
	a := &Assistant{
		llm:          provider,
		answerTokens: defaultAnswerTokens,
		answerTemp:   defaultAnswerTemp,
		enhanceTemp:  defaultEnhanceTemp,
		insightsTemp: defaultInsightsTemp,
		minRetention: defaultMinRetention,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}
