// Package deepgram transcribes audio chunks with Deepgram's pre-recorded
// /v1/listen API. The chunk is the raw request body and the top alternative
// of the first channel becomes the result.
package deepgram

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	listenURL         = "https://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16_000

	// autoLanguage asks Deepgram to detect the spoken language.
	autoLanguage = "auto"
)

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] for the Deepgram REST API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the model, e.g. "nova-3" (default) or "base".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language used when a request carries none.
// "auto" enables language detection. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithEndpoint replaces the listen URL, for proxies and self-hosted
// deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: listenURL,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if u, err := url.Parse(p.endpoint); err != nil || u.Host == "" {
		return nil, fmt.Errorf("deepgram: invalid endpoint %q", p.endpoint)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Audio) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	lang := cmp.Or(req.Language, p.language)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"?"+p.query(req, lang).Encode(), bytes.NewReader(req.Audio))
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", bodyType(req.MimeType))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Result{}, fmt.Errorf("deepgram: %s (request %s): %s",
			resp.Status, cmp.Or(resp.Header.Get("dg-request-id"), "unknown"), bytes.TrimSpace(msg))
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	res := lr.result()
	if res.Language == "" && lang != autoLanguage {
		res.Language = lang
	}
	return res, nil
}

// query builds the listen parameters for req.
func (p *Provider) query(req stt.Request, lang string) url.Values {
	q := url.Values{
		"model":        {p.model},
		"punctuate":    {"true"},
		"smart_format": {"true"},
	}
	if lang == autoLanguage {
		q.Set("detect_language", "true")
	} else {
		q.Set("language", lang)
	}

	// Containers describe themselves; raw PCM does not.
	if req.MimeType == "audio/pcm" {
		rate := req.SampleRate
		if rate <= 0 {
			rate = defaultSampleRate
		}
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(rate))
		q.Set("channels", "1")
	}

	// A prompt is a comma separated list of names to boost.
	for term := range strings.SplitSeq(req.Prompt, ",") {
		if term = strings.TrimSpace(term); term != "" {
			q.Add("keyterm", term)
		}
	}
	return q
}

func bodyType(mimeType string) string {
	if mimeType == "" || mimeType == "audio/pcm" {
		return "application/octet-stream"
	}
	return mimeType
}

// listenResponse is the part of a pre-recorded response we read.
type listenResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string        `json:"detected_language"`
			Alternatives     []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

func (lr *listenResponse) result() stt.Result {
	if len(lr.Results.Channels) == 0 {
		return stt.Result{}
	}
	ch := lr.Results.Channels[0]
	res := stt.Result{Language: ch.DetectedLanguage}
	if len(ch.Alternatives) > 0 {
		res.Text = strings.TrimSpace(ch.Alternatives[0].Transcript)
		res.Confidence = ch.Alternatives[0].Confidence
	}
	return res
}
