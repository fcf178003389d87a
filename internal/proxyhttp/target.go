package proxyhttp

import (
	"context"

	"github.com/thushan/rama/pkg/rcontext"
)

// ProxyTarget describes the upstream a CONNECT tunnel was opened
// against. ServeConnect sets this extension on the tunnel's Context the
// moment the client transitions from Received to Accepted (the 200
// Connection Established response has been written), so anything further
// down the stack - a Layer, the control plane, a log line - can read
// which host the now-opaque byte stream is destined for without
// threading an extra parameter through splice.
type ProxyTarget struct {
	Host string
	MITM bool
}

type proxyTargetKey struct{}

// SetProxyTarget stores target on ctx's *rcontext.Context, if it carries
// one; a plain context.Context is left untouched.
func SetProxyTarget(ctx context.Context, target ProxyTarget) {
	if rc, ok := ctx.(*rcontext.Context); ok {
		rcontext.Set(rc, proxyTargetKey{}, target)
	}
}

// ProxyTargetFromContext retrieves the ProxyTarget SetProxyTarget stored,
// if any.
func ProxyTargetFromContext(ctx *rcontext.Context) (ProxyTarget, bool) {
	return rcontext.Get[ProxyTarget](ctx, proxyTargetKey{})
}
