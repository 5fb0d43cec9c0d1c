// Package ai resolves a provider selection into a streaming completion
// capability backed by an eino chain.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/parley/backend/internal/config"
	"github.com/zhouzirui/parley/backend/internal/model/catalog"
)

var (
	ErrMissingCredential   = errors.New("missing provider credential")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// CredentialError names the provider whose key is missing. It matches
// ErrMissingCredential with errors.Is.
type CredentialError struct {
	Provider string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s API key is required", e.Provider)
}

func (e *CredentialError) Is(target error) bool {
	return target == ErrMissingCredential
}

// Selection is what a user picked for a turn.
type Selection struct {
	Provider   string
	Model      string
	Credential string
}

// Spec is the resolved input handed to a Builder.
type Spec struct {
	Provider    string
	Model       string
	Credential  string
	MaxTokens   int
	Temperature *float32
}

// Builder constructs a chat model for one provider.
type Builder func(ctx context.Context, spec Spec) (model.BaseChatModel, error)

// Option customises a Resolver.
type Option func(*Resolver)

// WithBuilder replaces the builder of a provider.
func WithBuilder(provider string, b Builder) Option {
	return func(r *Resolver) {
		r.builders[provider] = b
	}
}

// WithPrompt replaces the system preamble template.
func WithPrompt(t PromptTemplate) Option {
	return func(r *Resolver) {
		r.prompt = t
	}
}

// Resolver turns selections into completions. It keeps no per-request state:
// every Resolve builds a fresh model client so credentials stay request-local.
type Resolver struct {
	catalog  *catalog.Catalog
	cfg      config.AIConfig
	builders map[string]Builder
	prompt   PromptTemplate
}

// NewResolver creates a resolver with the built-in provider builders.
func NewResolver(cat *catalog.Catalog, cfg config.AIConfig, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  cat,
		cfg:      cfg,
		builders: defaultBuilders(cfg),
		prompt:   PromptTemplate{SystemPrompt: cfg.SystemPrompt},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve validates the selection and builds the completion chain. Unknown
// providers fall back to the catalog default provider and its default model.
func (r *Resolver) Resolve(ctx context.Context, sel Selection) (*Completion, error) {
	provider, ok := r.catalog.Lookup(strings.TrimSpace(sel.Provider))
	modelID := strings.TrimSpace(sel.Model)
	if !ok {
		provider = r.catalog.Default()
		modelID = provider.DefaultModel()
	}
	if modelID == "" {
		modelID = provider.DefaultModel()
	}

	credential := strings.TrimSpace(sel.Credential)
	if provider.RequiresKey && credential == "" {
		return nil, &CredentialError{Provider: provider.Name}
	}
	if !provider.RequiresKey {
		credential = ""
	}

	build, ok := r.builders[provider.Key]
	if !ok {
		return nil, fmt.Errorf("%w: no client for %q", ErrProviderUnavailable, provider.Key)
	}

	spec := Spec{
		Provider:   provider.Key,
		Model:      modelID,
		Credential: credential,
		MaxTokens:  r.cfg.MaxTokens,
	}
	if r.cfg.Temperature != nil {
		val := float32(*r.cfg.Temperature)
		spec.Temperature = &val
	}

	chatModel, err := build(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s model %q: %v", ErrProviderUnavailable, provider.Key, modelID, err)
	}

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(newChatTemplate())
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Completion{
		Provider: provider.Key,
		Model:    modelID,
		system:   r.prompt.BuildSystemPrompt(),
		chain:    runnable,
	}, nil
}

// Completion is a resolved, ready-to-run model.
type Completion struct {
	Provider string
	Model    string

	system string
	chain  compose.Runnable[map[string]any, *schema.Message]
}

// Stream starts generation over the full history and returns the incremental
// output. Cancelling ctx stops the provider call.
func (c *Completion) Stream(ctx context.Context, history []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	stream, err := c.chain.Stream(ctx, map[string]any{
		"system":  c.system,
		"history": history,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}
