package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/deals247/newsletter/internal/pkg/ctxlog"
)

// InternalErrorMessage is the body returned for every unmapped error.
const InternalErrorMessage = "Internal server error"

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// HandleError maps a domain error to an HTTP response using provided mappings.
// Unmapped errors are logged and answered with a generic 500 so store
// details never reach the client.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			Error(w, m.Status, msg)
			return
		}
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, InternalErrorMessage)
}
