package observers

import (
	"context"
	"errors"
	"testing"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder(t *testing.T) (einocb.Handler, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return newTracingCallbacks(tp.Tracer("test")), exp
}

func TestTracingSpanPerComponent(t *testing.T) {
	h, exp := newRecorder(t)
	info := &einocb.RunInfo{Name: "validate", Type: "Gemini", Component: components.ComponentOfChatModel}

	ctx := h.OnStart(context.Background(), info, nil)
	h.OnEnd(ctx, info, nil)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ChatModel/validate", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
}

func TestTracingRecordsErrors(t *testing.T) {
	h, exp := newRecorder(t)
	info := &einocb.RunInfo{Type: "Adapter", Component: components.ComponentOfTool}

	ctx := h.OnStart(context.Background(), info, nil)
	h.OnError(ctx, info, errors.New("ckan down"))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Tool/Adapter", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "ckan down", spans[0].Status.Description)
}

func TestLoggingCallbacksHandleEveryComponent(t *testing.T) {
	h := NewLoggingCallbacks()
	ctx := context.Background()

	modelInfo := &einocb.RunInfo{Name: "generate", Type: "Gemini", Component: components.ComponentOfChatModel}
	assert.NotPanics(t, func() {
		c := h.OnStart(ctx, modelInfo, &model.CallbackInput{Messages: []*schema.Message{schema.UserMessage("shelter")}})
		h.OnEnd(c, modelInfo, &model.CallbackOutput{Message: schema.AssistantMessage("{}", nil)})
	})

	toolInfo := &einocb.RunInfo{Name: "retrieve_shelters", Type: "Adapter", Component: components.ComponentOfTool}
	assert.NotPanics(t, func() {
		c := h.OnStart(ctx, toolInfo, &tool.CallbackInput{ArgumentsInJSON: `{"query":"shelter"}`})
		h.OnError(c, toolInfo, errors.New("boom"))
	})

	assert.Len(t, NewAllCallbacks(), 2)
}
