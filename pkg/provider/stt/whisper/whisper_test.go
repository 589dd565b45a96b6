package whisper

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// fakeServer is a whisper.cpp stand-in that answers every inference with a
// fixed body and remembers the form of each request.
type fakeServer struct {
	*httptest.Server

	mu    sync.Mutex
	forms []map[string]string
}

func newFakeServer(t *testing.T, answer any) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != inferencePath {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			form["filename"] = files[0].Filename
		}
		fs.mu.Lock()
		fs.forms = append(fs.forms, form)
		fs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(answer)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) requests() []map[string]string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]map[string]string(nil), fs.forms...)
}

// tone returns samples of a loud 440 Hz sine at 16 kHz.
func tone(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/defaultSampleRate))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		wantErr  bool
		endpoint string
	}{
		{name: "empty", url: "", wantErr: true},
		{name: "only slash", url: "/", wantErr: true},
		{name: "plain", url: "http://whisper:8080", endpoint: "http://whisper:8080/inference"},
		{name: "trailing slash", url: "http://whisper:8080/", endpoint: "http://whisper:8080/inference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.endpoint != tt.endpoint {
				t.Errorf("endpoint = %q, want %q", p.endpoint, tt.endpoint)
			}
		})
	}
}

func TestTranscribe_SendsForm(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, map[string]string{"text": " hello everyone "})
	p, err := New(srv.URL, WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), stt.Request{
		Audio:    []byte{0x1a, 0x45, 0xdf, 0xa3},
		MimeType: "audio/webm",
		Language: "de",
		Prompt:   "Alice, Bob",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello everyone" {
		t.Errorf("Text = %q, want %q", res.Text, "hello everyone")
	}
	if res.Language != "de" {
		t.Errorf("Language = %q, want de", res.Language)
	}

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	want := map[string]string{
		"language":        "de",
		"model":           "base.en",
		"prompt":          "Alice, Bob",
		"response_format": "verbose_json",
		"filename":        "audio.webm",
	}
	for k, v := range want {
		if got := reqs[0][k]; got != v {
			t.Errorf("form %s = %q, want %q", k, got, v)
		}
	}
}

func TestTranscribe_OmitsEmptyFields(t *testing.T) {
	t.Parallel()

	srv := newFakeServer(t, map[string]string{"text": "ok"})
	p, _ := New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{1, 2}}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	form := srv.requests()[0]
	for _, k := range []string{"model", "prompt"} {
		if _, ok := form[k]; ok {
			t.Errorf("form has %s, want it omitted", k)
		}
	}
	if form["language"] != defaultLanguage {
		t.Errorf("language = %q, want %q", form["language"], defaultLanguage)
	}
}

func TestTranscribe_PCM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		audio     []byte
		threshold float64
		wantCalls int
		wantText  string
	}{
		{name: "silence stays local", audio: make([]byte, 3200), threshold: defaultQuietRMS, wantCalls: 0},
		{name: "speech is sent", audio: tone(1600), threshold: defaultQuietRMS, wantCalls: 1, wantText: "speech"},
		{name: "gate disabled", audio: make([]byte, 3200), threshold: 0, wantCalls: 1, wantText: "speech"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newFakeServer(t, map[string]string{"text": "speech"})
			p, _ := New(srv.URL, WithSilenceThreshold(tt.threshold))

			res, err := p.Transcribe(context.Background(), stt.Request{Audio: tt.audio, MimeType: "audio/pcm"})
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if res.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", res.Text, tt.wantText)
			}
			reqs := srv.requests()
			if len(reqs) != tt.wantCalls {
				t.Fatalf("requests = %d, want %d", len(reqs), tt.wantCalls)
			}
			if tt.wantCalls > 0 && reqs[0]["filename"] != "audio.wav" {
				t.Errorf("filename = %q, want audio.wav", reqs[0]["filename"])
			}
		})
	}
}

func TestTranscribe_VerboseSegments(t *testing.T) {
	t.Parallel()

	answer := inference{
		Text:             "ignored when segments exist",
		DetectedLanguage: "fr",
		Segments: []segment{
			{Text: " Bonjour à tous.", AvgLogprob: -0.1, NoSpeechProb: 0.01},
			{Text: " [BLANK_AUDIO]", AvgLogprob: -0.2, NoSpeechProb: 0.1},
			{Text: " merci", AvgLogprob: -3, NoSpeechProb: 0.9},
			{Text: " On commence (musique) ?", AvgLogprob: -0.3, NoSpeechProb: 0.2},
		},
	}
	srv := newFakeServer(t, answer)
	p, _ := New(srv.URL)

	res, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{1}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if want := "Bonjour à tous. On commence ?"; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if res.Language != "fr" {
		t.Errorf("Language = %q, want detected fr", res.Language)
	}
	if want := math.Exp(-0.2); math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", res.Confidence, want)
	}
}

func TestInferenceResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       inference
		wantText string
		wantLang string
		wantConf bool
	}{
		{
			name:     "blank audio only",
			in:       inference{Text: "[BLANK_AUDIO]"},
			wantText: "",
		},
		{
			name:     "language fallback",
			in:       inference{Text: "hi", Language: "en"},
			wantText: "hi",
			wantLang: "en",
		},
		{
			name:     "all segments silent",
			in:       inference{Segments: []segment{{Text: "uh", NoSpeechProb: 0.95}}},
			wantText: "",
		},
		{
			name:     "confident segment",
			in:       inference{Segments: []segment{{Text: "yes", AvgLogprob: 0}}},
			wantText: "yes",
			wantConf: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.in.result()
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
			if got.Language != tt.wantLang {
				t.Errorf("Language = %q, want %q", got.Language, tt.wantLang)
			}
			if (got.Confidence > 0) != tt.wantConf {
				t.Errorf("Confidence = %v, want set=%v", got.Confidence, tt.wantConf)
			}
			if got.Confidence > 1 {
				t.Errorf("Confidence = %v, want <= 1", got.Confidence)
			}
		})
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()

	p, _ := New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	p, _ := New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{1}})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("err = %v, want the server's message", err)
	}
}

func TestWrapPCM(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 320)
	wav := wrapPCM(pcm, 8000)
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Error("chunk markers missing")
	}
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"chunk size", binary.LittleEndian.Uint32(wav[4:8]), uint32(36 + len(pcm))},
		{"format", uint32(binary.LittleEndian.Uint16(wav[20:22])), pcmFormat},
		{"channels", uint32(binary.LittleEndian.Uint16(wav[22:24])), 1},
		{"sample rate", binary.LittleEndian.Uint32(wav[24:28]), 8000},
		{"byte rate", binary.LittleEndian.Uint32(wav[28:32]), 16000},
		{"bits", uint32(binary.LittleEndian.Uint16(wav[34:36])), 16},
		{"data size", binary.LittleEndian.Uint32(wav[40:44]), uint32(len(pcm))},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestLoudness(t *testing.T) {
	t.Parallel()

	if got := loudness(nil); got != 0 {
		t.Errorf("loudness(nil) = %v, want 0", got)
	}
	if got := loudness([]byte{0xff}); got != 0 {
		t.Errorf("loudness(one byte) = %v, want 0", got)
	}
	// A sine of amplitude A has RMS A/sqrt(2).
	if got := loudness(tone(1600)); math.Abs(got-10_000/math.Sqrt2) > 100 {
		t.Errorf("loudness(tone) = %v, want about %v", got, 10_000/math.Sqrt2)
	}
}
