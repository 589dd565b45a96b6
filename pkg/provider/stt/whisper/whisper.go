// Package whisper transcribes audio with a self-hosted whisper.cpp server
// (the whisper-server binary and its POST /inference endpoint).
//
// Encoded chunks (webm, ogg, mp3) are forwarded untouched, so the server must
// run with --convert to decode them through ffmpeg. Raw PCM is wrapped in a
// WAV container first, and quiet PCM chunks never reach the server.
//
// The server is asked for verbose JSON. Segments it judges to be non-speech
// are dropped, as are the bracketed markers whisper emits for silence or
// music, so meeting transcripts do not fill up with "[BLANK_AUDIO]".
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	inferencePath = "/inference"

	defaultLanguage   = "en"
	defaultSampleRate = 16_000
	defaultTimeout    = 30 * time.Second

	// defaultQuietRMS is the loudness under which a PCM chunk is treated as
	// silence. Full scale is 32767.
	defaultQuietRMS = 300.0

	// noSpeechCutoff drops segments the model itself considers silence.
	noSpeechCutoff = 0.6

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 512
)

// nonSpeech matches whole-token markers like "[BLANK_AUDIO]" or "(music)".
var nonSpeech = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] talking to one whisper.cpp server.
type Provider struct {
	endpoint string
	model    string
	language string
	quietRMS float64
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use, e.g. "base.en". Empty
// leaves the server's startup model in place.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a request carries none.
// Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThreshold sets the RMS loudness under which raw PCM chunks are
// answered locally with an empty result. Zero sends every chunk.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) { p.quietRMS = rms }
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a Provider for the server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Provider, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	p := &Provider{
		endpoint: baseURL + inferencePath,
		language: defaultLanguage,
		quietRMS: defaultQuietRMS,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Audio) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	audio := req.Audio
	if req.MimeType == "audio/pcm" {
		if p.quietRMS > 0 && loudness(audio) < p.quietRMS {
			return stt.Result{Language: lang}, nil
		}
		rate := req.SampleRate
		if rate <= 0 {
			rate = defaultSampleRate
		}
		audio = wrapPCM(audio, rate)
	}

	body, contentType, err := p.form(audio, stt.FileName(req.MimeType), lang, req.Prompt)
	if err != nil {
		return stt.Result{}, err
	}
	out, err := p.post(ctx, body, contentType)
	if err != nil {
		return stt.Result{}, err
	}

	res := out.result()
	if res.Language == "" {
		res.Language = lang
	}
	return res, nil
}

// form builds the multipart upload.
func (p *Provider) form(audio []byte, fileName, lang, prompt string) (*bytes.Buffer, string, error) {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", fileName)
	if err == nil {
		_, err = part.Write(audio)
	}
	if err != nil {
		return nil, "", fmt.Errorf("whisper: attach audio: %w", err)
	}

	for _, f := range [][2]string{
		{"response_format", "verbose_json"},
		{"language", lang},
		{"model", p.model},
		{"prompt", prompt},
	} {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: finish form: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}

func (p *Provider) post(ctx context.Context, body io.Reader, contentType string) (*inference, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("whisper: server answered %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out inference
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("whisper: decode response: %w", err)
	}
	return &out, nil
}

// inference is the subset of the server's verbose_json answer we use. Older
// servers ignore verbose_json and send only Text.
type inference struct {
	Text             string    `json:"text"`
	Language         string    `json:"language"`
	DetectedLanguage string    `json:"detected_language"`
	Segments         []segment `json:"segments"`
}

type segment struct {
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// result keeps the speech segments and derives a confidence from their mean
// token log probability.
func (in *inference) result() stt.Result {
	res := stt.Result{Language: in.DetectedLanguage}
	if res.Language == "" {
		res.Language = in.Language
	}

	if len(in.Segments) == 0 {
		res.Text = cleanText(in.Text)
		return res
	}

	var (
		parts   []string
		logprob float64
	)
	for _, s := range in.Segments {
		if s.NoSpeechProb > noSpeechCutoff {
			continue
		}
		if text := cleanText(s.Text); text != "" {
			parts = append(parts, text)
			logprob += s.AvgLogprob
		}
	}
	if len(parts) == 0 {
		return res
	}
	res.Text = strings.Join(parts, " ")
	res.Confidence = min(1, math.Exp(logprob/float64(len(parts))))
	return res
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(nonSpeech.ReplaceAllString(s, " ")), " ")
}
