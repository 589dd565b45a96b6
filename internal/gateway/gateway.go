// Package gateway serves participant connections over WebSocket.
//
// Each accepted socket is authenticated once, with a bearer token from the
// Authorization header or the "token" query parameter, and then carries JSON
// envelopes in both directions. Inbound envelopes are decoded into
// [protocol.Command] values and handed to the session coordinator one at a
// time; outbound events are queued on a bounded buffer and written by a
// dedicated goroutine so that a broadcast never waits on a slow client.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/protocol"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 64

	// Audio chunks arrive base64-encoded inside the envelope.
	defaultReadLimit = 8 << 20
)

// Coordinator is the part of [session.Coordinator] the gateway drives.
type Coordinator interface {
	Connect(ctx context.Context, credential string, sink session.Sink) (*session.Conn, error)
	Disconnect(ctx context.Context, c *session.Conn)
	Handle(ctx context.Context, c *session.Conn, cmd protocol.Command) error
	ReportError(ctx context.Context, c *session.Conn, command string, err error)
}

var _ Coordinator = (*session.Coordinator)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithOriginPatterns sets the host patterns allowed in the Origin header, in
// the syntax of [websocket.AcceptOptions.OriginPatterns]. Same-origin
// requests are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithWriteTimeout bounds every frame write. Default: 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithPingInterval sets the keepalive interval. Zero or negative disables
// pings. Default: 30s.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithSendBuffer sets how many outbound events may queue per connection
// before the client is dropped as too slow. Default: 64.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithReadLimit caps the size of one inbound message in bytes. Default: 8 MiB.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// Server is an [http.Handler] that upgrades requests to WebSocket
// participant connections.
type Server struct {
	coord        Coordinator
	origins      []string
	writeTimeout time.Duration
	pingInterval time.Duration
	sendBuffer   int
	readLimit    int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a [Server] routing connections to coord.
func New(coord Coordinator, opts ...Option) *Server {
	s := &Server{
		coord:        coord,
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		sendBuffer:   defaultSendBuffer,
		readLimit:    defaultReadLimit,
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	credential := credentialFrom(r)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Debug("gateway: upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(s.readLimit)

	s.wg.Add(1)
	defer s.wg.Done()
	s.serve(ws, credential, r.RemoteAddr)
}

// Shutdown closes every open connection and waits for their handlers to
// return or for ctx to expire. New upgrades are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway: shutdown: %w", ctx.Err())
	}
}

// serve runs one connection. The socket's own context outlives server
// shutdown so pending events and the going-away close frame still reach the
// client; command handling stops with the server.
func (s *Server) serve(ws *websocket.Conn, credential, remoteAddr string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmdCtx, cmdCancel := context.WithCancel(s.ctx)
	defer cmdCancel()

	cl := newClient(ws, s.sendBuffer, s.writeTimeout)
	conn, err := s.coord.Connect(cmdCtx, credential, cl)
	if err != nil {
		slog.Info("gateway: authentication failed", "remote_addr", remoteAddr, "err", err)
		cl.rejectAuth(ctx)
		return
	}
	stop := context.AfterFunc(s.ctx, func() {
		cl.close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()
	log := slog.With("conn_id", conn.ID(), "participant_id", conn.Participant().ID)
	log.Info("gateway: connection opened", "remote_addr", remoteAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cl.writeLoop(ctx)
	}()
	if s.pingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cl.pingLoop(ctx, s.pingInterval)
		}()
	}

	err = s.readLoop(ctx, cmdCtx, ws, conn)
	s.coord.Disconnect(context.Background(), conn)
	cl.close(websocket.StatusNormalClosure, "connection closed")
	wg.Wait()
	cancel()
	_ = ws.CloseNow()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("gateway: connection closed")
	default:
		log.Info("gateway: connection closed", "reason", err)
	}
}

// readLoop handles inbound envelopes until the socket closes. Commands of
// one connection are handled strictly in arrival order, under cmdCtx.
func (s *Server) readLoop(ctx, cmdCtx context.Context, ws *websocket.Conn, conn *session.Conn) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			s.coord.ReportError(cmdCtx, conn, "", fmt.Errorf("%w: binary frames are not supported", protocol.ErrInvalidPayload))
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.coord.ReportError(cmdCtx, conn, "", fmt.Errorf("%w: %v", protocol.ErrInvalidPayload, err))
			continue
		}
		cmd, err := protocol.Decode(env)
		if err != nil {
			s.coord.ReportError(cmdCtx, conn, env.Type, err)
			continue
		}
		// Handle reports failures to the client itself.
		_ = s.coord.Handle(cmdCtx, conn, cmd)
	}
}

// credentialFrom extracts the bearer token. Browsers cannot set headers on
// WebSocket requests, so the query parameter is accepted as well.
func credentialFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return strings.TrimSpace(h)
	}
	return r.URL.Query().Get("token")
}
