package ai_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/parley/backend/internal/config"
	"github.com/zhouzirui/parley/backend/internal/model/catalog"
	"github.com/zhouzirui/parley/backend/internal/service/ai"
	"github.com/zhouzirui/parley/backend/internal/service/ai/aitest"
)

func newResolver(fake *aitest.Model, specs *[]ai.Spec, opts ...ai.Option) *ai.Resolver {
	cat := catalog.MustBuiltin()
	all := []ai.Option{}
	for _, p := range cat.List() {
		all = append(all, ai.WithBuilder(p.Key, fake.Builder(specs)))
	}
	return ai.NewResolver(cat, config.AIConfig{MaxTokens: 256}, append(all, opts...)...)
}

func TestResolveUnknownProviderFallsBackToDefault(t *testing.T) {
	var specs []ai.Spec
	r := newResolver(&aitest.Model{}, &specs)

	c, err := r.Resolve(context.Background(), ai.Selection{Provider: "unknown-xyz", Model: "whatever", Credential: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", c.Provider)
	assert.Equal(t, "llama3.2:1b", c.Model)

	require.Len(t, specs, 1)
	assert.Equal(t, "ollama", specs[0].Provider)
	assert.Empty(t, specs[0].Credential)
	assert.Equal(t, 256, specs[0].MaxTokens)
}

func TestResolveMissingCredential(t *testing.T) {
	var specs []ai.Spec
	r := newResolver(&aitest.Model{}, &specs)

	_, err := r.Resolve(context.Background(), ai.Selection{Provider: "openai", Model: "gpt-4o"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ai.ErrMissingCredential))

	var credErr *ai.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, "OpenAI", credErr.Provider)
	assert.Empty(t, specs, "no client may be built without a key")
}

func TestResolveKeylessProvider(t *testing.T) {
	r := newResolver(&aitest.Model{}, nil)

	c, err := r.Resolve(context.Background(), ai.Selection{Provider: "ollama", Model: "llama3.1:8b"})
	require.NoError(t, err)
	assert.Equal(t, "llama3.1:8b", c.Model)
}

func TestResolveEmptyModelUsesProviderDefault(t *testing.T) {
	r := newResolver(&aitest.Model{}, nil)

	c, err := r.Resolve(context.Background(), ai.Selection{Provider: "google", Credential: "g-key"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", c.Model)
}

func TestResolveBuilderFailure(t *testing.T) {
	r := newResolver(&aitest.Model{}, nil, ai.WithBuilder("ollama", func(context.Context, ai.Spec) (model.BaseChatModel, error) {
		return nil, errors.New("dial failed")
	}))

	_, err := r.Resolve(context.Background(), ai.Selection{Provider: "ollama"})
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
}

func TestCompletionStreamsThroughChain(t *testing.T) {
	fake := &aitest.Model{Chunks: []string{"Hel", "lo"}}
	r := newResolver(fake, nil, ai.WithPrompt(ai.PromptTemplate{SystemPrompt: "Be brief."}))

	c, err := r.Resolve(context.Background(), ai.Selection{Provider: "ollama"})
	require.NoError(t, err)

	history := []*schema.Message{
		schema.UserMessage("hi {not a var}"),
		schema.AssistantMessage("hey", nil),
		schema.UserMessage("again"),
	}
	stream, err := c.Stream(context.Background(), history)
	require.NoError(t, err)
	defer stream.Close()

	var out strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		out.WriteString(chunk.Content)
	}
	assert.Equal(t, "Hello", out.String())

	input := fake.LastInput()
	require.Len(t, input, 4)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Equal(t, "Be brief.", input[0].Content)
	assert.Equal(t, "hi {not a var}", input[1].Content)
	assert.Equal(t, schema.Assistant, input[2].Role)
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, ai.DefaultSystemPrompt, ai.PromptTemplate{}.BuildSystemPrompt())

	got := ai.PromptTemplate{SystemPrompt: "Base", Rules: []string{"one", "two"}}.BuildSystemPrompt()
	assert.Equal(t, "Base\n\nRules:\n- one\n- two", got)
}
