package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// NewLoggingCallbacks aggregates the model, prompt and tool log handlers
// into one callbacks.Handler.
func NewLoggingCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(newToolHandler()).
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
}

// NewAllCallbacks returns every observer to attach to a run.
func NewAllCallbacks() []einocb.Handler {
	return []einocb.Handler{NewLoggingCallbacks(), NewTracingCallbacks()}
}
