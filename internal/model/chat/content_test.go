package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncomingMessageFlatContent(t *testing.T) {
	var msg IncomingMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg))

	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, Parts{TextPart("hello")}, msg.Parts)
}

func TestIncomingMessagePartsWinOverContent(t *testing.T) {
	var msg IncomingMessage
	raw := `{"id":"m1","role":"user","content":"ignored","parts":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "ab", msg.Parts.Text())
	assert.Len(t, msg.Parts, 2)
}

func TestIncomingMessageContentAsPartsArray(t *testing.T) {
	var msg IncomingMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":[{"type":"text","text":"hi"}]}`), &msg))

	assert.Equal(t, "hi", msg.Parts.Text())
}

func TestIncomingMessageRejectsObjectContent(t *testing.T) {
	var msg IncomingMessage
	assert.Error(t, json.Unmarshal([]byte(`{"role":"user","content":{"text":"x"}}`), &msg))
}

func TestIncomingMessageMissingContentBecomesEmptyText(t *testing.T) {
	var msg IncomingMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user"}`), &msg))

	assert.Equal(t, Parts{TextPart("")}, msg.Parts)
}

func TestPartsTextSkipsNonTextKinds(t *testing.T) {
	var parts Parts
	raw := `[{"type":"step-start"},{"type":"text","text":"one "},{"type":"reasoning","text":"hidden"},{"type":"text","text":"two"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &parts))

	assert.Equal(t, "one two", parts.Text())
}

func TestPartPreservesUnknownFields(t *testing.T) {
	var p Part
	require.NoError(t, json.Unmarshal([]byte(`{"type":"file","url":"https://x/y.png","mediaType":"image/png"}`), &p))

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"file","url":"https://x/y.png","mediaType":"image/png"}`, string(out))
}

func TestMessageToHistory(t *testing.T) {
	msg := Message{ID: "m1", Role: RoleAssistant, Parts: Parts{TextPart("Hello "), TextPart("world")}}

	got := msg.ToHistory()
	assert.Equal(t, "Hello world", got.Content)
	assert.Len(t, got.Parts, 2)

	empty := Message{ID: "m2", Role: RoleUser}.ToHistory()
	assert.NotNil(t, empty.Parts)
	assert.Equal(t, "", empty.Content)
}
