package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	"github.com/communityfinder/server/internal/agent/graph/nodes"
	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/agent/tools"
	errx "github.com/communityfinder/server/internal/core/error"
	"github.com/communityfinder/server/internal/progress"
	logx "github.com/communityfinder/server/pkg/logger"
)

// maxRunSteps bounds a run; the longest path visits four nodes.
const maxRunSteps = 10

// GraphConfig holds all capabilities the graph calls into.
type GraphConfig struct {
	Classifier nodes.Classifier
	Evaluator  nodes.Evaluator
	Generator  nodes.Generator
	Router     nodes.AdapterRouter
	Search     tools.Adapter
	Callbacks  []einocb.Handler
}

func (c *GraphConfig) validate() error {
	if c == nil {
		return fmt.Errorf("graph config is nil")
	}
	if c.Classifier == nil || c.Evaluator == nil || c.Generator == nil {
		return fmt.Errorf("language model capabilities are not initialized")
	}
	if c.Router == nil || c.Search == nil {
		return fmt.Errorf("capability adapters are not initialized")
	}
	return nil
}

// GraphBuilder handles the construction of the decision graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.RunInput, *model.Update]
}

type sinkKey struct{}

func withSink(ctx context.Context, sink progress.Sink) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink)
}

func sinkFrom(ctx context.Context) progress.Sink {
	if s, ok := ctx.Value(sinkKey{}).(progress.Sink); ok {
		return s
	}
	return progress.Discard
}

// BuildGraph constructs and returns the compiled decision graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.RunInput, *model.Update], error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	b := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.RunInput, *model.Update](
			compose.WithGenLocalState(func(ctx context.Context) *model.State {
				return model.NewState(sinkFrom(ctx))
			}),
		),
	}

	if err := b.addNodes(); err != nil {
		return nil, err
	}
	if err := b.addEdges(); err != nil {
		return nil, err
	}
	if err := b.addBranches(); err != nil {
		return nil, err
	}
	return b.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	apply := compose.WithStatePostHandler(nodes.NewApplyPostHandler())

	if err := b.graph.AddLambdaNode(nodes.NodeValidateQuery,
		nodes.NewValidateNode(b.config.Classifier),
		compose.WithStatePreHandler(nodes.NewValidatePreHandler()),
		apply,
	); err != nil {
		return fmt.Errorf("add %s node: %w", nodes.NodeValidateQuery, err)
	}
	if err := b.graph.AddLambdaNode(nodes.NodeAPICall,
		nodes.NewAPICallNode(b.config.Router, b.config.Evaluator), apply,
	); err != nil {
		return fmt.Errorf("add %s node: %w", nodes.NodeAPICall, err)
	}
	if err := b.graph.AddLambdaNode(nodes.NodeSearch,
		nodes.NewSearchNode(b.config.Search), apply,
	); err != nil {
		return fmt.Errorf("add %s node: %w", nodes.NodeSearch, err)
	}
	if err := b.graph.AddLambdaNode(nodes.NodeGenerate,
		nodes.NewGenerateNode(b.config.Generator), apply,
	); err != nil {
		return fmt.Errorf("add %s node: %w", nodes.NodeGenerate, err)
	}
	return nil
}

// addEdges creates the unconditional connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeValidateQuery},
		{nodes.NodeSearch, nodes.NodeGenerate},
		{nodes.NodeGenerate, compose.END},
	}
	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	validity := compose.NewGraphBranch(
		nodes.NewValidityCondition(),
		map[string]bool{
			nodes.NodeAPICall:  true,
			nodes.NodeGenerate: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeValidateQuery, validity); err != nil {
		logx.Error().Err(err).Msg("Error adding validity branch")
		return fmt.Errorf("error adding validity branch: %w", err)
	}

	decideToSearch := compose.NewGraphBranch(
		nodes.NewDecideToSearchCondition(),
		map[string]bool{
			nodes.NodeSearch:   true,
			nodes.NodeGenerate: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeAPICall, decideToSearch); err != nil {
		logx.Error().Err(err).Msg("Error adding decide_to_search branch")
		return fmt.Errorf("error adding decide_to_search branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.RunInput, *model.Update], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxRunSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}
	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}

// Runner executes the compiled graph once per request.
type Runner struct {
	runnable  compose.Runnable[model.RunInput, *model.Update]
	callbacks []einocb.Handler
}

// NewRunner builds the graph described by config.
func NewRunner(ctx context.Context, config *GraphConfig) (*Runner, error) {
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Runner{runnable: runnable, callbacks: config.Callbacks}, nil
}

// Invoke runs the graph to completion. Step notifications go to sink.
func (r *Runner) Invoke(ctx context.Context, in model.RunInput, sink progress.Sink) (*model.Outcome, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, model.ErrEmptyQuery
	}
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}
	if sink == nil {
		sink = progress.Discard
	}

	var opts []compose.Option
	if len(r.callbacks) > 0 {
		opts = append(opts, compose.WithCallbacks(r.callbacks...))
	}

	logx.Info().Str("run_id", in.RunID).Bool("has_location", in.UsersLocation != nil).Msg("Run started")
	out, err := r.runnable.Invoke(withSink(ctx, sink), in, opts...)
	if err != nil {
		return nil, err
	}
	return model.OutcomeFrom(out)
}

// Stream runs the graph and publishes exactly one terminal event to sink:
// the answer, the out-of-domain apology, or a failure. Nothing terminal is
// published once ctx is cancelled since the caller is gone.
func (r *Runner) Stream(ctx context.Context, in model.RunInput, sink progress.Sink) {
	if sink == nil {
		sink = progress.Discard
	}
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}
	final := r.run(ctx, in, sink)
	if ctx.Err() != nil {
		logx.Info().Str("run_id", in.RunID).Err(ctx.Err()).Msg("Run abandoned; caller gone")
		return
	}
	sink.Publish(final)
}

func (r *Runner) run(ctx context.Context, in model.RunInput, sink progress.Sink) (final progress.Event) {
	defer func() {
		if p := recover(); p != nil {
			logx.Error().Str("run_id", in.RunID).Msgf("panic recovered: %v", p)
			final = progress.Failure(errx.SystemErrorMessage)
		}
	}()

	out, err := r.Invoke(ctx, in, sink)
	if err != nil {
		logx.Error().Err(err).Str("run_id", in.RunID).Msg("Run failed")
		return progress.Failure(failureMessage(err))
	}
	if out.ErrorResponse != "" {
		return progress.Failure(out.ErrorResponse)
	}
	raw, err := json.Marshal(out.StructuredResponse)
	if err != nil {
		logx.Error().Err(err).Str("run_id", in.RunID).Msg("Encoding answer failed")
		return progress.Failure(errx.SystemErrorMessage)
	}
	logx.Info().Str("run_id", in.RunID).Int("addresses", len(out.StructuredResponse.Addresses)).Msg("Run finished")
	return progress.Final(string(raw))
}

// failureMessage returns the client-safe text for err.
func failureMessage(err error) string {
	var appErr *errx.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return errx.SystemErrorMessage
}
