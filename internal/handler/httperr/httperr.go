// Package httperr maps domain errors onto HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/zhouzirui/parley/backend/internal/service/ai"
	chatService "github.com/zhouzirui/parley/backend/internal/service/chat"
	settingsService "github.com/zhouzirui/parley/backend/internal/service/settings"
	"github.com/zhouzirui/parley/backend/pkg/utils"
)

// Error codes clients can branch on.
const (
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeMissingCredential = "missing_credential"
	CodeProvider          = "provider_error"
	CodeInternal          = "internal"
)

// Classify returns the status and code for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, chatService.ErrMissingSession),
		errors.Is(err, chatService.ErrInvalidHistory),
		errors.Is(err, settingsService.ErrInvalidPatch),
		errors.Is(err, settingsService.ErrUnknownProvider):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, ai.ErrMissingCredential):
		return http.StatusBadRequest, CodeMissingCredential
	case errors.Is(err, chatService.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, chatService.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, chatService.ErrSessionUnknown):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ai.ErrProviderUnavailable),
		errors.Is(err, chatService.ErrGeneration):
		return http.StatusBadGateway, CodeProvider
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// Message is the client-safe text of err. Internal errors are not echoed.
func Message(err error) string {
	if status, _ := Classify(err); status == http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}

// Write sends err as a JSON error body.
func Write(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	utils.RespondErrorCode(w, status, code, Message(err))
}
