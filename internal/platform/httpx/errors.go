// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/ledger/internal/shared"
)

// ErrMalformedBody reports a request body that is not valid JSON.
var ErrMalformedBody = errors.New("malformed request body")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := classify(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	problem := ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   shared.ErrorCode(err),
	}
	if state, ok := shared.CurrentState(err); ok {
		problem.State = state
	}
	JSON(w, status, problem)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMalformedBody), errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, shared.ErrStateConflict):
		return http.StatusConflict, "State Conflict"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrConfiguration):
		return http.StatusInternalServerError, "Configuration Problem"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
