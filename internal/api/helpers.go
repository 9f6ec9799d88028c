package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/greedo/internal/inference"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeRequestError maps a validation error onto a 400 with its parameter.
func writeRequestError(c *echo.Context, err error) error {
	var ire invalidRequestError
	if errors.As(err, &ire) {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", ire.msg, ire.param, "")
	}
	return writeBadRequest(c, err.Error())
}

// generateErrorStatus classifies a Generate failure into an HTTP status and
// an error body.
func generateErrorStatus(err error) (int, ResponseError) {
	var se *inference.ScorerError
	switch {
	case errors.Is(err, inference.ErrSessionBusy):
		return http.StatusConflict, ResponseError{Message: err.Error(), Type: "conflict_error", Code: "session_busy"}
	case errors.Is(err, inference.ErrNothingToContinue):
		return http.StatusBadRequest, ResponseError{Message: err.Error(), Type: "invalid_request_error", Code: "nothing_to_continue", Param: "continue"}
	case errors.As(err, &se):
		return http.StatusBadGateway, ResponseError{Message: err.Error(), Type: "scorer_error", Code: scorerCode(se.Err)}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ResponseError{Message: err.Error(), Type: "server_error", Code: "cancelled"}
	default:
		return http.StatusInternalServerError, ResponseError{Message: err.Error(), Type: "server_error"}
	}
}

func scorerCode(err error) string {
	switch {
	case errors.Is(err, inference.ErrScorerTimeout):
		return "scorer_timeout"
	case errors.Is(err, inference.ErrScorerBusy):
		return "scorer_busy"
	case errors.Is(err, inference.ErrMalformedLogits):
		return "malformed_logits"
	default:
		return "scorer_failed"
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		return out, err
	}
	return out, nil
}

func newSessionID() string {
	return "sess_" + uuid.NewString()
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
