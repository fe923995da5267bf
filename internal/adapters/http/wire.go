// Package http is the HTTP transport between nodes and the master.
//
// Bodies are JSON. Non-2xx responses carry an ErrorBody; the status code
// tells the caller whether retrying can help.
package http

import (
	"errors"
	"net/http"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/pkg/install"
	"github.com/bft-labs/livespace/pkg/lifecycle"
)

// Endpoint paths.
const (
	RegisterPath = "/v1/nodes/register"
	StatusPath   = "/v1/status"
	CommandPath  = "/v1/commands"
)

// ErrorBody is the JSON body of an error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// StatusCode maps a domain error to the HTTP status code that reports it.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrInvalidIdentity),
		errors.Is(err, install.ErrValidation),
		errors.Is(err, domain.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNodeNotRegistered):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownNode),
		errors.Is(err, domain.ErrUnknownActivity):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownCommand),
		errors.Is(err, lifecycle.ErrUnsupportedGoal):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
