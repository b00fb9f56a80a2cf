// Package extract turns free text into typed values with a chat model.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/communityfinder/server/internal/agent/graph/parsers"
	"github.com/communityfinder/server/internal/agent/graph/prompts"
	"github.com/communityfinder/server/internal/agent/model"
	errx "github.com/communityfinder/server/internal/core/error"
	logx "github.com/communityfinder/server/pkg/logger"
)

const providerName = "gemini"

// Extractor renders a prompt, calls the model once and decodes the JSON
// answer into a validated target.
type Extractor struct {
	model     einomodel.BaseChatModel
	modelName string
	timeout   time.Duration
}

func New(m einomodel.BaseChatModel, modelName string, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Extractor{model: m, modelName: modelName, timeout: timeout}
}

// Extract fills out from the model's answer to the named prompt.
func (e *Extractor) Extract(ctx context.Context, name prompts.Name, user string, out parsers.Validator) error {
	content, err := e.generate(ctx, name, user)
	if err != nil {
		return err
	}
	return parsers.Decode(content, out)
}

func (e *Extractor) generate(ctx context.Context, name prompts.Name, user string) (string, error) {
	msgs, err := prompts.Render(ctx, name, user)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      string(name),
		Type:      "Gemini",
		Component: components.ComponentOfChatModel,
	})

	start := time.Now()
	resp, err := e.model.Generate(ctx, msgs)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errx.WrapTimeout(providerName+" "+string(name), err)
		}
		return "", errx.WrapProvider(providerName, err)
	}
	if resp == nil {
		return "", errx.WrapProvider(providerName, fmt.Errorf("%s: empty response", name))
	}

	ev := logx.Debug().
		Str("prompt", string(name)).
		Str("model", e.modelName).
		Dur("latency", time.Since(start))
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		cost := model.ComputeCost(e.modelName, resp.ResponseMeta.Usage)
		ev = ev.
			Int("prompt_tokens", cost.PromptTokens).
			Int("completion_tokens", cost.CompletionTokens).
			Float64("total_cost_usd", cost.Total)
	}
	ev.Msg("LLM usage")

	return resp.Content, nil
}

// Classify decides whether query is in the social-services domain. A bare
// VALID or INVALID answer is accepted as well as the JSON form.
func (e *Extractor) Classify(ctx context.Context, query string) (model.Validity, error) {
	content, err := e.generate(ctx, prompts.Validate, query)
	if err != nil {
		return model.ValidityUnset, err
	}

	var c model.QueryClassification
	err = parsers.Decode(content, &c)
	if err == nil {
		return c.Validity(), nil
	}
	if !errors.Is(err, parsers.ErrNoJSON) {
		return model.ValidityUnset, err
	}

	switch text := strings.ToUpper(content); {
	case strings.Contains(text, "INVALID"):
		return model.ValidityInvalid, nil
	case strings.Contains(text, "VALID"):
		return model.ValidityValid, nil
	}
	return model.ValidityUnset, fmt.Errorf("unrecognised classification %q", strings.TrimSpace(content))
}

// ShelterFilter extracts shelter dataset filters from query.
func (e *Extractor) ShelterFilter(ctx context.Context, query string) (*model.ShelterFilter, error) {
	var f model.ShelterFilter
	if err := e.Extract(ctx, prompts.ShelterFilter, query, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FamilyCenterFilter extracts family centre dataset filters from query.
func (e *Extractor) FamilyCenterFilter(ctx context.Context, query string) (*model.FamilyCenterFilter, error) {
	var f model.FamilyCenterFilter
	if err := e.Extract(ctx, prompts.FamilyCenterFilter, query, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Evaluate judges whether records answer query.
func (e *Extractor) Evaluate(ctx context.Context, query string, records []model.Record) (model.EvaluationSignal, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return model.EvaluationSignal{}, fmt.Errorf("encode results: %w", err)
	}
	user := fmt.Sprintf("User query: %s\n\nAPI results: %s", query, raw)

	var sig model.EvaluationSignal
	if err := e.Extract(ctx, prompts.Evaluate, user, &sig); err != nil {
		return model.EvaluationSignal{}, err
	}
	return sig, nil
}

// Answer synthesises the final structured answer from records.
func (e *Extractor) Answer(ctx context.Context, records []model.Record) (*model.StructuredResponse, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}

	var resp model.StructuredResponse
	if err := e.Extract(ctx, prompts.Generate, "Retrieved results: "+string(raw), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
