// Package tracing implements the OpenTelemetry span Layer named in C10,
// grounded on internal/app/middleware/logging.go's per-request Layer
// shape but emitting spans instead of (or alongside) log lines.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thushan/rama/pkg/service"
)

// Layer wraps the inner HTTP Service in a span named spanName, tagged
// with OpenTelemetry semantic-convention HTTP attributes. tracer is
// typically obtained once at startup from a configured TracerProvider.
func Layer(tracer trace.Tracer, spanName string) service.Layer[*http.Request, *http.Response] {
	return service.LayerFunc[*http.Request, *http.Response](func(inner service.Service[*http.Request, *http.Response]) service.Service[*http.Request, *http.Response] {
		return service.ServiceFunc[*http.Request, *http.Response](func(ctx context.Context, req *http.Request) (*http.Response, error) {
			spanCtx, span := tracer.Start(ctx, spanName,
				trace.WithAttributes(
					attribute.String("net.peer.name", req.Host),
					attribute.String("http.method", req.Method),
				),
			)
			defer span.End()

			resp, err := inner.Serve(spanCtx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return resp, err
			}
			if resp != nil {
				span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			}
			return resp, nil
		})
	})
}
