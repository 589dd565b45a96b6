// Package openai transcribes audio through the OpenAI transcription endpoint
// or any service exposing the same API, such as Groq (see [WithBaseURL]).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Provider is an [stt.Provider] backed by the OpenAI audio API.
type Provider struct {
	client      oai.Client
	model       string
	temperature float64
}

var _ stt.Provider = (*Provider)(nil)

type settings struct {
	baseURL     string
	model       string
	timeout     time.Duration
	temperature float64
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at a compatible service, e.g.
// "https://api.groq.com/openai/v1".
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithModel selects the transcription model. Default: "whisper-1".
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithTemperature sets the sampling temperature in [0, 1]. Zero leaves the
// service default.
func WithTemperature(t float64) Option {
	return func(s *settings) { s.temperature = t }
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: api key must not be empty")
	}
	s := settings{model: defaultModel}
	for _, o := range opts {
		o(&s)
	}
	if s.temperature < 0 || s.temperature > 1 {
		return nil, fmt.Errorf("openai stt: temperature %v outside [0, 1]", s.temperature)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(s.baseURL))
	}
	if s.timeout > 0 {
		clientOpts = append(clientOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	return &Provider{
		client:      oai.NewClient(clientOpts...),
		model:       s.model,
		temperature: s.temperature,
	}, nil
}

// Transcribe implements [stt.Provider]. Confidence is reported only by
// models that return token log probabilities.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Audio) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, p.params(req))
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: %w", err)
	}
	return stt.Result{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: confidence(resp.Logprobs),
		Language:   req.Language,
	}, nil
}

func (p *Provider) params(req stt.Request) oai.AudioTranscriptionNewParams {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(req.Audio), stt.FileName(req.MimeType), baseType(req.MimeType)),
		Model: oai.AudioModel(p.model),
	}
	if req.Language != "" {
		params.Language = oai.String(primaryLanguage(req.Language))
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}
	if p.temperature > 0 {
		params.Temperature = oai.Float(p.temperature)
	}
	if reportsLogprobs(p.model) {
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	}
	return params
}

// reportsLogprobs reports whether model accepts include=logprobs. The
// whisper family rejects it.
func reportsLogprobs(model string) bool {
	return strings.HasPrefix(model, "gpt-4o") && strings.HasSuffix(model, "transcribe")
}

// confidence is the geometric mean token probability, or zero without
// log probabilities.
func confidence(lps []oai.TranscriptionLogprob) float64 {
	if len(lps) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range lps {
		sum += lp.Logprob
	}
	return min(1, math.Exp(sum/float64(len(lps))))
}

// baseType drops MIME parameters such as ";codecs=opus".
func baseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	if base = strings.TrimSpace(base); base == "" {
		return "audio/webm"
	}
	return base
}

// primaryLanguage reduces a BCP-47 tag such as "en-US" to the ISO-639-1 code
// the endpoint expects.
func primaryLanguage(tag string) string {
	lang, _, _ := strings.Cut(strings.ReplaceAll(tag, "_", "-"), "-")
	return strings.ToLower(lang)
}
