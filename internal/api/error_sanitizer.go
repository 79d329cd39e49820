package api

import (
	"errors"
	"net/http"

	"github.com/ignite/newsletter/internal/domain"
	"github.com/ignite/newsletter/internal/pkg/httputil"
	"github.com/ignite/newsletter/internal/service/subscription"
)

// respondWorkflowError maps subscription workflow errors to HTTP responses.
// Validation and token outcomes carry a reason the caller can act on; store
// and notifier failures are logged and answered with a generic 500 so no
// database or provider detail reaches the client.
func respondWorkflowError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.ValidationFailed(w, verr.Field, verr.Error())
	case errors.Is(err, subscription.ErrMissingToken):
		httputil.ErrorWithCode(w, http.StatusBadRequest, httputil.CodeMissingToken,
			"confirmation token is required", nil)
	case errors.Is(err, subscription.ErrTokenNotFound):
		httputil.Unauthorized(w, httputil.CodeUnknownToken, "confirmation token is not valid")
	default:
		httputil.InternalError(w, err)
	}
}
