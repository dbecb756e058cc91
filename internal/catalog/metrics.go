package catalog

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/cratehub/registry/internal/catalog")
}

// endSpan records err on span, if non-nil, before closing it. Meant
// to be deferred right after tracer.Start.
func endSpan(span trace.Span, err *error) func() {
	return func() {
		if *err != nil {
			span.RecordError(*err)
			span.SetStatus(codes.Error, (*err).Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
