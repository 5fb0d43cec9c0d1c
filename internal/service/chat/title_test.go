package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/parley/backend/internal/model/chat"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		history []chat.IncomingMessage
		max     int
		want    string
	}{
		{"first line only", []chat.IncomingMessage{userMsg("  Plan a trip  \nto Kyoto")}, 40, "Plan a trip"},
		{"skips assistant", []chat.IncomingMessage{assistantMsg("Hi there"), userMsg("Question")}, 40, "Question"},
		{"first user wins", []chat.IncomingMessage{userMsg("one"), userMsg("two")}, 40, "one"},
		{"truncates runes", []chat.IncomingMessage{userMsg("日本語のタイトルです")}, 3, "日本語"},
		{"blank falls back", []chat.IncomingMessage{userMsg("   \nsecond")}, 40, chat.DefaultTitle},
		{"crlf", []chat.IncomingMessage{userMsg("Windows\r\nline")}, 40, "Windows"},
		{"no user", []chat.IncomingMessage{assistantMsg("x")}, 40, chat.DefaultTitle},
		{"empty", nil, 40, chat.DefaultTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.history, tt.max))
		})
	}
}
