package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/matchengine/internal/adapters/mq/queue"
	"github.com/okian/matchengine/internal/adapters/repository"
	"github.com/okian/matchengine/internal/adapters/source"
	service "github.com/okian/matchengine/internal/app"
	"github.com/okian/matchengine/internal/domain/trigger"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBackpressure = errors.New("backpressure")
	ErrUnavailable  = errors.New("unavailable")
)

// NewKind returns an error of the given kind tagged with the operation.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind tags err with the operation and kind while keeping it matchable.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// classify maps an upstream error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, trigger.ErrInvalidEvent),
		errors.Is(err, queue.ErrInvalidTask),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, source.ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrBackpressure), errors.Is(err, queue.ErrQueueSaturated):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, service.ErrDraining),
		errors.Is(err, service.ErrNotStarted),
		errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
