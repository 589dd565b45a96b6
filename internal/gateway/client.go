package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/protocol"
)

// client is the outbound half of one socket. It implements [session.Sink].
type client struct {
	ws           *websocket.Conn
	out          chan protocol.Event
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	code      websocket.StatusCode
	reason    string
}

var _ session.Sink = (*client)(nil)

func newClient(ws *websocket.Conn, buffer int, writeTimeout time.Duration) *client {
	return &client{
		ws:           ws,
		out:          make(chan protocol.Event, buffer),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Send queues ev without blocking. A client whose buffer is full is closed.
func (c *client) Send(ev protocol.Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- ev:
	case <-c.done:
	default:
		slog.Warn("gateway: send buffer full, dropping client", "event", ev.Type)
		c.close(websocket.StatusPolicyViolation, "client too slow")
	}
}

// Close implements [session.Sink].
func (c *client) Close(reason string) {
	c.close(websocket.StatusNormalClosure, reason)
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.code = code
		c.reason = reason
		close(c.done)
	})
}

// writeLoop writes queued events until the client is closed or ctx ends.
// Events still queued at close time are flushed first.
func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case ev := <-c.out:
			if err := c.write(ctx, ev); err != nil {
				slog.Debug("gateway: write failed", "event", ev.Type, "err", err)
				c.close(websocket.StatusInternalError, "write failed")
				_ = c.ws.CloseNow()
				return
			}
		case <-c.done:
			c.flush(ctx)
			_ = c.ws.Close(c.code, c.reason)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) flush(ctx context.Context) {
	for {
		select {
		case ev := <-c.out:
			if err := c.write(ctx, ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(ctx context.Context, ev protocol.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("gateway: marshal event", "event", ev.Type, "err", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// pingLoop keeps idle connections alive and detects dead peers. A missed
// pong closes the socket, which ends the read loop.
func (c *client) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("gateway: ping failed", "err", err)
					c.close(websocket.StatusPolicyViolation, "ping timeout")
				}
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// rejectAuth tells an unauthenticated client why it is being closed.
func (c *client) rejectAuth(ctx context.Context) {
	_ = c.write(ctx, protocol.NewEvent(protocol.EventOperationError, protocol.OperationError{
		Code:    protocol.CodeAuthentication,
		Message: "authentication failed",
	}))
	_ = c.ws.Close(websocket.StatusPolicyViolation, "authentication failed")
}
