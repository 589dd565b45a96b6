// Package mock is a scriptable [stt.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider answers every Transcribe with Result, or with Err when set.
// TranscribeFunc replaces both. Configure it before first use.
type Provider struct {
	Result         stt.Result
	Err            error
	TranscribeFunc func(ctx context.Context, req stt.Request) (stt.Result, error)

	mu   sync.Mutex
	reqs []stt.Request
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	switch {
	case p.TranscribeFunc != nil:
		return p.TranscribeFunc(ctx, req)
	case p.Err != nil:
		return stt.Result{}, p.Err
	}
	return p.Result, nil
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.Request(nil), p.reqs...)
}

// CallCount is len(Requests()).
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}
