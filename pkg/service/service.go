// Package service defines the generic Service/Layer composition algebra
// that every protocol core (HTTP proxy, SOCKS5, WebSocket) is built from.
package service

import (
	"context"
	"errors"
)

// Service is anything that asynchronously turns a request into a response.
// It is the one capability every protocol core, middleware and the control
// plane share; everything else in this module is a Service or a Layer that
// wraps one.
type Service[Req, Resp any] interface {
	Serve(ctx context.Context, req Req) (Resp, error)
}

// ServiceFunc lets a plain function satisfy Service, the same way
// http.HandlerFunc lets a function satisfy http.Handler.
type ServiceFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

func (f ServiceFunc[Req, Resp]) Serve(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Layer wraps an inner Service to produce a new Service, typically adding
// a single cross-cutting concern (retry, rate limiting, tracing, header
// rewriting). Layers compose outside-in: Stack(a, b, c).Wrap(inner) runs
// a, then b, then c, then inner.
type Layer[Req, Resp any] interface {
	Wrap(inner Service[Req, Resp]) Service[Req, Resp]
}

// LayerFunc lets a plain function satisfy Layer.
type LayerFunc[Req, Resp any] func(inner Service[Req, Resp]) Service[Req, Resp]

func (f LayerFunc[Req, Resp]) Wrap(inner Service[Req, Resp]) Service[Req, Resp] {
	return f(inner)
}

// Stack composes layers into a single Layer. The first layer in the slice
// is the outermost: it sees the request first and the response last.
func Stack[Req, Resp any](layers ...Layer[Req, Resp]) Layer[Req, Resp] {
	return LayerFunc[Req, Resp](func(inner Service[Req, Resp]) Service[Req, Resp] {
		svc := inner
		for i := len(layers) - 1; i >= 0; i-- {
			svc = layers[i].Wrap(svc)
		}
		return svc
	})
}

// ErrRejected is returned by a Service that declines to handle a request at
// all, as distinct from handling it and producing an application error.
var ErrRejected = errors.New("service: request rejected")

// Reject is a Service that always fails with ErrRejected. It's useful as the
// innermost service of a stack built purely for its side effects (a Layer
// chain ending in "there is nothing left to do"), and in tests that assert
// a Layer never reaches its inner service.
func Reject[Req, Resp any]() Service[Req, Resp] {
	var zero Resp
	return ServiceFunc[Req, Resp](func(_ context.Context, _ Req) (Resp, error) {
		return zero, ErrRejected
	})
}

// BoxService erases Req/Resp into `any` so heterogeneous services (an HTTP
// proxy service, a SOCKS5 service, a WebSocket service) can share one
// registry. A BoxService holds only the wrapped serve function and no
// per-Context state, so one BoxService can be shared across the
// per-connection Contexts that the listener runtime spawns.
type BoxService struct {
	serve func(ctx context.Context, req any) (any, error)
}

// Box wraps a typed Service into a BoxService.
func Box[Req, Resp any](svc Service[Req, Resp]) *BoxService {
	return &BoxService{
		serve: func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(Req)
			if !ok {
				var zero Resp
				return zero, errors.New("service: boxed request type mismatch")
			}
			return svc.Serve(ctx, typed)
		},
	}
}

// Serve invokes the boxed service.
func (b *BoxService) Serve(ctx context.Context, req any) (any, error) {
	return b.serve(ctx, req)
}
