// Package netlistener implements the listener runtime: an accept loop that
// mints a per-connection rcontext.Context, spawns the connection's handler
// as a guarded task against a graceful.Token, and pauses before retrying
// after a non-timeout accept error instead of spinning.
package netlistener

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/thushan/rama/pkg/graceful"
	"github.com/thushan/rama/pkg/rcontext"
)

// Handler processes one accepted connection. It owns conn for the
// connection's lifetime, including closing it.
type Handler func(ctx *rcontext.Context, conn net.Conn)

// acceptErrorBackoff is how long the accept loop pauses after a non-
// transient Accept error before retrying, matching the standard library's
// own net/http.Server accept-retry behaviour.
const acceptErrorBackoff = time.Second

// Runtime drives one net.Listener's accept loop.
type Runtime struct {
	Listener net.Listener
	Token    *graceful.Token
	Handler  Handler
	Logger   *slog.Logger
	Executor rcontext.Executor
}

// New builds a Runtime. logger may be nil, in which case slog.Default is
// used.
func New(ln net.Listener, token *graceful.Token, handler Handler, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{Listener: ln, Token: token, Handler: handler, Logger: logger}
}

// Serve runs the accept loop until the Runtime's Token begins draining.
// An Accept timeout is retried at once; any other Accept error is logged
// and retried after acceptErrorBackoff. Serve returns when Accept fails
// while the Token is no longer Running, or when the Token's context ends
// during a back-off; callers typically run it in its own goroutine and
// close the listener from the shutdown path.
func (r *Runtime) Serve() error {
	defer r.Listener.Close()

	for {
		conn, err := r.Listener.Accept()
		if err != nil {
			if r.Token.State() != graceful.Running {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			r.Logger.Error("accept error, backing off", "error", err, "backoff", acceptErrorBackoff)
			select {
			case <-time.After(acceptErrorBackoff):
				continue
			case <-r.Token.Context().Done():
				return nil
			}
		}

		r.handle(conn)
	}
}

func (r *Runtime) handle(conn net.Conn) {
	exec := r.Executor
	if exec == nil {
		exec = rcontext.ExecutorFunc(func(fn func()) {
			r.Token.SpawnTask(func(_ context.Context) { fn() })
		})
	}

	ctx := rcontext.New(r.Token.Context()).WithExecutor(exec)

	r.Token.SpawnTask(func(_ context.Context) {
		defer conn.Close()
		defer r.recoverPanic(ctx)
		r.Handler(ctx, conn)
	})
}

func (r *Runtime) recoverPanic(ctx *rcontext.Context) {
	if rec := recover(); rec != nil {
		r.Logger.Error("recovered panic in connection handler",
			"connection_id", ctx.ConnectionID().String(),
			"panic", rec,
		)
	}
}
