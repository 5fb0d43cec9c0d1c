package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/parley/backend/internal/service/ai"
	chatService "github.com/zhouzirui/parley/backend/internal/service/chat"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", chatService.ErrMissingSession), http.StatusBadRequest, CodeBadRequest},
		{&ai.CredentialError{Provider: "OpenAI"}, http.StatusBadRequest, CodeMissingCredential},
		{chatService.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{chatService.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{chatService.ErrSessionUnknown, http.StatusNotFound, CodeNotFound},
		{fmt.Errorf("%w: refused", chatService.ErrGeneration), http.StatusBadGateway, CodeProvider},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, code := Classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestWriteHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("dsn=postgres://secret"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal Server Error", body["error"])
	assert.Equal(t, CodeInternal, body["code"])
}

func TestWriteCredentialError(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, &ai.CredentialError{Provider: "Anthropic"})

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Anthropic API key is required", body["error"])
	assert.Equal(t, CodeMissingCredential, body["code"])
}
