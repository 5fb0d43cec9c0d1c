package ai

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/parley/backend/internal/config"
)

func defaultBuilders(cfg config.AIConfig) map[string]Builder {
	return map[string]Builder{
		"ollama":    ollamaBuilder(cfg),
		"openai":    openAIBuilder(cfg.OpenAIBaseURL, cfg),
		"google":    openAIBuilder(cfg.GoogleBaseURL, cfg),
		"anthropic": claudeBuilder(cfg),
		"ark":       arkBuilder(cfg),
	}
}

func ollamaBuilder(cfg config.AIConfig) Builder {
	return func(ctx context.Context, spec Spec) (model.BaseChatModel, error) {
		m, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.OllamaBaseURL,
			Model:   spec.Model,
			Timeout: cfg.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// openAIBuilder also serves Google, whose Gemini API has an OpenAI-compatible endpoint.
func openAIBuilder(baseURL string, cfg config.AIConfig) Builder {
	return func(ctx context.Context, spec Spec) (model.BaseChatModel, error) {
		maxTokens := spec.MaxTokens
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      spec.Credential,
			BaseURL:     baseURL,
			Model:       spec.Model,
			Timeout:     cfg.RequestTimeout,
			MaxTokens:   &maxTokens,
			Temperature: spec.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func claudeBuilder(cfg config.AIConfig) Builder {
	return func(ctx context.Context, spec Spec) (model.BaseChatModel, error) {
		conf := &claude.Config{
			APIKey:      spec.Credential,
			Model:       spec.Model,
			MaxTokens:   spec.MaxTokens,
			Temperature: spec.Temperature,
		}
		if cfg.AnthropicBaseURL != "" {
			baseURL := cfg.AnthropicBaseURL
			conf.BaseURL = &baseURL
		}
		m, err := claude.NewChatModel(ctx, conf)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func arkBuilder(cfg config.AIConfig) Builder {
	return func(ctx context.Context, spec Spec) (model.BaseChatModel, error) {
		maxTokens := spec.MaxTokens
		m, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     cfg.ArkBaseURL,
			Region:      cfg.ArkRegion,
			APIKey:      spec.Credential,
			Model:       spec.Model,
			MaxTokens:   &maxTokens,
			Temperature: spec.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
