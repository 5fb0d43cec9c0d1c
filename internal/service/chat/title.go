package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/parley/backend/internal/model/chat"
)

// DeriveTitle takes the first line of the first user message, cut to
// maxRunes. It falls back to chat.DefaultTitle when there is no usable text.
func DeriveTitle(history []chat.IncomingMessage, maxRunes int) string {
	for _, msg := range history {
		if msg.Role != chat.RoleUser {
			continue
		}
		return truncateTitle(msg.Parts.Text(), maxRunes)
	}
	return chat.DefaultTitle
}

func truncateTitle(text string, maxRunes int) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" {
		return chat.DefaultTitle
	}
	if maxRunes > 0 && utf8.RuneCountInString(line) > maxRunes {
		line = strings.TrimSpace(string([]rune(line)[:maxRunes]))
	}
	return line
}
