package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/communityfinder/server/pkg/telemetry"
)

// NewTracingCallbacks opens one span per graph node and component call on
// the global tracer provider.
func NewTracingCallbacks() einocb.Handler {
	return newTracingCallbacks(otel.Tracer(telemetry.TracerName))
}

func newTracingCallbacks(tracer trace.Tracer) einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			if info == nil {
				return ctx
			}
			ctx, _ = tracer.Start(ctx, spanName(info), trace.WithAttributes(
				attribute.String("eino.component", string(info.Component)),
				attribute.String("eino.type", info.Type),
				attribute.String("eino.name", info.Name),
			))
			return ctx
		}).
		OnEndFn(func(ctx context.Context, _ *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			trace.SpanFromContext(ctx).End()
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, _ *einocb.RunInfo, err error) context.Context {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return ctx
		}).
		Build()
}

func spanName(info *einocb.RunInfo) string {
	if info.Name != "" {
		return string(info.Component) + "/" + info.Name
	}
	return string(info.Component) + "/" + info.Type
}
