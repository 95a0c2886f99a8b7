package relay

import (
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	apierrors "github.com/diogo/kiki/internal/errors"
)

// ErrorBody is the error envelope every relay endpoint answers with.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the inner error object.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

const internalMessage = "An internal error occurred"

// envelope maps err to a status and envelope. Upstream statuses are mirrored;
// everything without a known status is a 500.
func envelope(err error) (int, ErrorBody) {
	var (
		ae *apierrors.APIError
		ve *apierrors.ValidationError
		ce *apierrors.ConfigurationError
		te *apierrors.TransportError
	)

	status := consts.StatusInternalServerError
	msg := internalMessage
	switch {
	case errors.As(err, &ce):
		msg = ce.Message
	case errors.As(err, &ve):
		status = consts.StatusBadRequest
		msg = ve.Message
	case errors.As(err, &ae):
		if ae.StatusCode >= 400 {
			status = ae.StatusCode
		}
		msg = ae.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
	case errors.As(err, &te):
		switch {
		case te.Timeout:
			msg = "Upstream request timed out"
		default:
			msg = "Upstream unreachable"
		}
	}

	typ := apierrors.ErrorType(err)
	if te != nil {
		typ = apierrors.TypeAPI
	}
	return status, ErrorBody{Error: ErrorDetail{Message: msg, Type: typ}}
}

func writeError(c *app.RequestContext, err error) {
	status, body := envelope(err)
	c.JSON(status, body)
}

func badRequest(c *app.RequestContext, message string) {
	writeError(c, apierrors.NewValidationError("", message))
}
