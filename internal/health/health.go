// Package health serves the liveness and readiness probes of the server.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz runs
// every registered [Checker] concurrently and reports one of four states:
//
//	ok        all checks passed                              200
//	degraded  some check reported [ErrDegraded], none failed 200
//	fail      at least one check failed                      503
//	draining  the server is shutting down                    503
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/resilience"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Report states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
	StatusDraining = "draining"
)

// ErrDegraded marks a check error that reduces service quality without
// making the server unready, such as a primary provider whose circuit is
// open while a fallback still answers.
var ErrDegraded = errors.New("degraded")

// ErrAllCircuitsOpen is reported by [FallbackChecker] when no provider of a
// group can currently be called.
var ErrAllCircuitsOpen = errors.New("every provider circuit is open")

// Checker is one named readiness check. Check must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by stores that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a store connection.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// FallbackChecker checks a provider fallback group. It fails while every
// provider's circuit is open and reports [ErrDegraded] while the primary's
// is open but a fallback is callable. Half-open circuits count as callable.
func FallbackChecker(name string, status func() []resilience.EntryStatus) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		entries := status()
		var open, serving []string
		for _, e := range entries {
			if e.State == resilience.StateOpen {
				open = append(open, e.Name)
			} else {
				serving = append(serving, e.Name)
			}
		}
		switch {
		case len(open) == 0:
			return nil
		case len(serving) == 0:
			return fmt.Errorf("%w: %s", ErrAllCircuitsOpen, strings.Join(open, ", "))
		case entries[0].State == resilience.StateOpen:
			return fmt.Errorf("%w: %s open, using %s", ErrDegraded, entries[0].Name, serving[0])
		}
		return nil
	}}
}

// CheckResult is the outcome of one check in a [Report].
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	TookMS int64  `json:"took_ms"`
}

// Report is the JSON body of both probes.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler running checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Drain makes every later readiness probe fail so load balancers stop
// routing new participants here while existing sessions wind down.
func (h *Handler) Drain() {
	h.draining.Store(true)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeReport(w, http.StatusServiceUnavailable, Report{Status: StatusDraining})
		return
	}

	rep := h.run(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, code, rep)
}

func (h *Handler) run(ctx context.Context) Report {
	rep := Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Status: StatusOK, TookMS: time.Since(start).Milliseconds()}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
			case errors.Is(err, ErrDegraded):
				res.Status, res.Error = StatusDegraded, err.Error()
				if rep.Status == StatusOK {
					rep.Status = StatusDegraded
				}
			default:
				res.Status, res.Error = StatusFail, err.Error()
				rep.Status = StatusFail
			}
			rep.Checks[c.Name] = res
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

func writeReport(w http.ResponseWriter, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
