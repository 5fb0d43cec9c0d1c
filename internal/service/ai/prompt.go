package ai

import (
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// DefaultSystemPrompt is the fixed assistant preamble sent before the history.
const DefaultSystemPrompt = "You are a highly analytical AI assistant. You excel at breaking down complex topics into structured explanations."

// PromptTemplate holds the preamble and optional behaviour rules appended to it.
type PromptTemplate struct {
	SystemPrompt string
	Rules        []string
}

// BuildSystemPrompt renders the preamble.
func (t PromptTemplate) BuildSystemPrompt() string {
	base := strings.TrimSpace(t.SystemPrompt)
	if base == "" {
		base = DefaultSystemPrompt
	}
	if len(t.Rules) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nRules:")
	for _, rule := range t.Rules {
		b.WriteString("\n- ")
		b.WriteString(rule)
	}
	return b.String()
}

// newChatTemplate places the preamble ahead of the conversation history.
func newChatTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)
}
