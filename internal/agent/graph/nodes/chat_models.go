package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/communityfinder/server/internal/agent/model"
	logx "github.com/communityfinder/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey         string
	BaseURL        string
	ExtractConfig  *model.ExtractModelConfig
	GenerateConfig *model.GenerateModelConfig
}

// ChatModels holds the extraction and generation chat models
type ChatModels struct {
	Extract           *gemini.ChatModel
	Generate          *gemini.ChatModel
	ExtractModelName  string
	GenerateModelName string
}

// NewChatModels creates both Gemini chat models over one shared client
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	if config.ExtractConfig == nil || config.GenerateConfig == nil {
		return nil, fmt.Errorf("chat model config is nil")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	// Extraction answers are short JSON objects; no thinking budget.
	extract, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.ExtractConfig.Model,
		Temperature: &config.ExtractConfig.Temperature,
		MaxTokens:   &config.ExtractConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating extract model")
		return nil, fmt.Errorf("error creating extract model: %w", err)
	}

	generate, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.GenerateConfig.Model,
		Temperature: &config.GenerateConfig.Temperature,
		MaxTokens:   &config.GenerateConfig.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(1024)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating generate model")
		return nil, fmt.Errorf("error creating generate model: %w", err)
	}

	return &ChatModels{
		Extract:           extract,
		Generate:          generate,
		ExtractModelName:  config.ExtractConfig.Model,
		GenerateModelName: config.GenerateConfig.Model,
	}, nil
}
