// Package headerpolicy implements the C10 header/body policy helpers:
// small single-purpose Layers a protocol core's HTTP path composes, the
// way internal/adapter/proxy/proxy.go/proxy_sherpa.go inline header
// stripping and internal/adapter/security/request_size_limit.go's
// body-size ceiling did in the teacher.
package headerpolicy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	units "github.com/docker/go-units"

	"github.com/thushan/rama/pkg/service"
)

// ErrBodyTooLarge is returned by MaxBodySizeLayer when a request body
// exceeds its configured ceiling. It is a distinct sentinel from
// service.ErrRejected so a caller can map it to its own status code
// (413) instead of collapsing every rejection reason into one response.
var ErrBodyTooLarge = errors.New("headerpolicy: body too large")

// MaxBodySizeLayer rejects any request whose Content-Length exceeds
// maxBytes, or that oversends past maxBytes when no Content-Length was
// given, by wrapping the body in an http.MaxBytesReader.
func MaxBodySizeLayer(maxBytes int64) service.Layer[*http.Request, *http.Response] {
	return service.LayerFunc[*http.Request, *http.Response](func(inner service.Service[*http.Request, *http.Response]) service.Service[*http.Request, *http.Response] {
		return service.ServiceFunc[*http.Request, *http.Response](func(ctx context.Context, req *http.Request) (*http.Response, error) {
			if req.ContentLength > maxBytes {
				return nil, fmt.Errorf("%w: content-length %s exceeds limit %s",
					ErrBodyTooLarge, units.HumanSize(float64(req.ContentLength)), units.HumanSize(float64(maxBytes)))
			}
			if req.Body != nil {
				req.Body = http.MaxBytesReader(nil, req.Body, maxBytes)
			}
			return inner.Serve(ctx, req)
		})
	})
}

// RequiredHeadersLayer rejects a request missing any of names, mapped to
// ErrMissingHeader so callers can surface HTTP 400.
func RequiredHeadersLayer(names ...string) service.Layer[*http.Request, *http.Response] {
	return service.LayerFunc[*http.Request, *http.Response](func(inner service.Service[*http.Request, *http.Response]) service.Service[*http.Request, *http.Response] {
		return service.ServiceFunc[*http.Request, *http.Response](func(ctx context.Context, req *http.Request) (*http.Response, error) {
			for _, name := range names {
				if req.Header.Get(name) == "" {
					return nil, fmt.Errorf("%w: %s", ErrMissingHeader, name)
				}
			}
			return inner.Serve(ctx, req)
		})
	})
}

// ErrMissingHeader is returned by RequiredHeadersLayer.
var ErrMissingHeader = errors.New("headerpolicy: required header missing")

// RemoveHeadersLayer strips the named headers from both the outbound
// request and the returned response, for headers a deployment wants
// scrubbed beyond the fixed hop-by-hop set (internal identifiers, debug
// headers).
func RemoveHeadersLayer(names ...string) service.Layer[*http.Request, *http.Response] {
	return service.LayerFunc[*http.Request, *http.Response](func(inner service.Service[*http.Request, *http.Response]) service.Service[*http.Request, *http.Response] {
		return service.ServiceFunc[*http.Request, *http.Response](func(ctx context.Context, req *http.Request) (*http.Response, error) {
			for _, name := range names {
				req.Header.Del(name)
			}
			resp, err := inner.Serve(ctx, req)
			if resp != nil {
				for _, name := range names {
					resp.Header.Del(name)
				}
			}
			return resp, err
		})
	})
}
