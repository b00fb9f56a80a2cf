package nodes

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/eino/compose"
	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/agent/tools"
	"github.com/communityfinder/server/internal/geo"
	logx "github.com/communityfinder/server/pkg/logger"
)

// ApologyMessage answers queries outside the social-services domain.
const ApologyMessage = "Sorry, I can only help with finding community and social support services in Toronto, " +
	"such as shelters, food banks, health and housing services, or child and family centres."

type Classifier interface {
	Classify(ctx context.Context, query string) (model.Validity, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, query string, records []model.Record) (model.EvaluationSignal, error)
}

type Generator interface {
	Answer(ctx context.Context, records []model.Record) (*model.StructuredResponse, error)
}

// AdapterRouter selects the adapters to call for a query.
type AdapterRouter interface {
	Route(query string) []tools.Adapter
}

// ===================================
// validate_query
// ===================================

// NewValidatePreHandler seeds the run state from the graph input.
func NewValidatePreHandler() func(context.Context, model.RunInput, *model.State) (model.RunInput, error) {
	return func(ctx context.Context, in model.RunInput, s *model.State) (model.RunInput, error) {
		if err := s.Seed(in); err != nil {
			return in, err
		}
		return in, nil
	}
}

// NewValidateNode classifies the query as in or out of domain.
func NewValidateNode(classifier Classifier) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.RunInput) (*model.Update, error) {
		validity, err := classifier.Classify(ctx, in.Query)
		if err != nil {
			return nil, fmt.Errorf("validate query: %w", err)
		}
		logx.Debug().Str("run_id", in.RunID).Str("validity", validity.String()).Msg("Query validated")
		return &model.Update{
			Step:         NodeValidateQuery,
			IsValidQuery: validity,
			Message:      "Finished validating query",
		}, nil
	})
}

// NewValidityCondition routes valid queries to api_call and everything else
// straight to generate.
func NewValidityCondition() func(context.Context, *model.Update) (string, error) {
	return func(ctx context.Context, _ *model.Update) (string, error) {
		snap, err := snapshot(ctx)
		if err != nil {
			return "", err
		}
		if snap.IsValidQuery == model.ValidityValid {
			return NodeAPICall, nil
		}
		logx.Debug().Str("run_id", snap.RunID).Msg("Routing to generate - query out of domain")
		return NodeGenerate, nil
	}
}

// ===================================
// api_call
// ===================================

// NewAPICallNode runs the routed adapters concurrently and evaluates the
// merged results. Adapter failures count as empty results.
func NewAPICallNode(router AdapterRouter, evaluator Evaluator) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Update) (*model.Update, error) {
		snap, err := snapshot(ctx)
		if err != nil {
			return nil, err
		}

		results := collect(ctx, snap.RunID, router.Route(snap.Query), snap.Query, snap.UsersLocation)

		out := &model.Update{
			Step:       NodeAPICall,
			APIResults: results,
			Message:    "Finished calling APIs",
		}
		if len(results) == 0 {
			logx.Debug().Str("run_id", snap.RunID).Msg("No API results; forcing search")
			out.UseSearch = model.Bool(true)
			out.IsHighOccupancy = model.Bool(false)
			return out, nil
		}

		emit(ctx, "Evaluating results")
		sig, err := evaluator.Evaluate(ctx, snap.Query, results)
		if err != nil {
			return nil, fmt.Errorf("evaluate results: %w", err)
		}
		logx.Debug().
			Str("run_id", snap.RunID).
			Bool("should_search", sig.ShouldSearch).
			Bool("is_high_occupancy", sig.IsHighOccupancy).
			Msg("Results evaluated")

		out.UseSearch = model.Bool(sig.ShouldSearch || sig.IsHighOccupancy)
		out.IsHighOccupancy = model.Bool(sig.IsHighOccupancy)
		return out, nil
	})
}

func collect(ctx context.Context, runID string, adapters []tools.Adapter, query string, loc *geo.Point) []model.Record {
	var (
		mu      sync.Mutex
		results []model.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			records, err := tools.Run(gctx, a, query, loc)
			if err != nil {
				logx.Warn().Err(err).Str("run_id", runID).Str("adapter", a.Name()).Msg("adapter failed; treating as empty")
				return nil
			}
			mu.Lock()
			results = append(results, records...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// NewDecideToSearchCondition routes to search when the evaluation asked for
// it or the shelters are nearly full.
func NewDecideToSearchCondition() func(context.Context, *model.Update) (string, error) {
	return func(ctx context.Context, _ *model.Update) (string, error) {
		snap, err := snapshot(ctx)
		if err != nil {
			return "", err
		}
		if snap.ShouldSearch() {
			logx.Debug().Str("run_id", snap.RunID).
				Bool("use_search", snap.UseSearch).
				Bool("is_high_occupancy", snap.IsHighOccupancy).
				Msg("Routing to search")
			return NodeSearch, nil
		}
		return NodeGenerate, nil
	}
}

// ===================================
// search
// ===================================

// NewSearchNode runs the places search adapter. A failed search writes an
// empty result set.
func NewSearchNode(adapter tools.Adapter) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Update) (*model.Update, error) {
		snap, err := snapshot(ctx)
		if err != nil {
			return nil, err
		}

		emit(ctx, "Further searching")
		records, err := tools.Run(ctx, adapter, snap.Query, snap.UsersLocation)
		if err != nil {
			logx.Warn().Err(err).Str("run_id", snap.RunID).Str("adapter", adapter.Name()).Msg("search failed; continuing without results")
			records = nil
		}
		return &model.Update{
			Step:          NodeSearch,
			SearchResults: records,
			WroteSearch:   true,
			Message:       "Finished searching",
		}, nil
	})
}

// ===================================
// generate
// ===================================

// NewGenerateNode produces the terminal answer: an apology for out of
// domain queries, otherwise a structured answer from search results when
// search was requested and from the API results when it was not.
func NewGenerateNode(generator Generator) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Update) (*model.Update, error) {
		snap, err := snapshot(ctx)
		if err != nil {
			return nil, err
		}

		out := &model.Update{Step: NodeGenerate, Message: "Finished generating response"}
		if snap.IsValidQuery != model.ValidityValid {
			out.ErrorResponse = ApologyMessage
			return out, nil
		}

		records := snap.APIResults
		if snap.UseSearch {
			records = snap.SearchResults
		}
		resp, err := generator.Answer(ctx, records)
		if err != nil {
			return nil, fmt.Errorf("generate response: %w", err)
		}
		out.StructuredResponse = resp
		return out, nil
	})
}

// ===================================
// shared
// ===================================

// NewApplyPostHandler merges a node's update into the run state and reports
// the finished step.
func NewApplyPostHandler() func(context.Context, *model.Update, *model.State) (*model.Update, error) {
	return func(ctx context.Context, out *model.Update, s *model.State) (*model.Update, error) {
		if out == nil {
			return nil, fmt.Errorf("node returned no update")
		}
		if err := s.Apply(out); err != nil {
			return nil, fmt.Errorf("apply %s update: %w", out.Step, err)
		}
		if out.Message != "" {
			s.Emit(out.Message)
		}
		return out, nil
	}
}
