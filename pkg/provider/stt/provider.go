// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Browsers capture microphone audio in short encoded chunks (typically
// audio/webm with Opus) and ship each chunk over the session socket. A
// provider turns one chunk into text in a single request; there is no
// long-lived recognition stream. The resulting text enters the transcript as
// an ordinary fragment, so the transcript engine handles overlap between
// consecutive chunks.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a request carries no audio bytes.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request describes one chunk of recorded audio.
type Request struct {
	// Audio is the encoded audio payload.
	Audio []byte

	// MimeType is the container format reported by the client, e.g.
	// "audio/webm" or "audio/ogg". "audio/pcm" denotes raw 16-bit signed
	// little-endian mono PCM at SampleRate.
	MimeType string

	// SampleRate applies to raw PCM only. Zero means 16000.
	SampleRate int

	// Language is a BCP-47 or ISO-639-1 hint. Empty means auto-detect or the
	// provider default.
	Language string

	// Prompt biases recognition towards expected vocabulary, such as the
	// display names of session members.
	Prompt string
}

// Result is the recognition outcome for a [Request].
type Result struct {
	// Text is the transcribed speech. Empty when the chunk held no speech.
	Text string

	// Confidence is in [0, 1]. Zero when the provider does not report one.
	Confidence float64

	// Language is the detected or requested language, if known.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises the speech in req.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// FileName returns a plausible upload file name for mimeType. Several
// transcription APIs infer the container from the extension.
func FileName(mimeType string) string {
	switch mimeType {
	case "audio/ogg", "audio/ogg;codecs=opus":
		return "audio.ogg"
	case "audio/wav", "audio/x-wav", "audio/pcm":
		return "audio.wav"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	default:
		return "audio.webm"
	}
}
