package httputil

import (
	"errors"
	"net/http"

	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/worker"
)

// WriteDomainError maps a domain error onto its HTTP status and writes the
// standard JSON error body. Unknown errors become 500s.
func WriteDomainError(w http.ResponseWriter, err error) {
	WriteErrorMessage(w, DomainErrorStatus(err), err.Error())
}

// DomainErrorStatus returns the HTTP status for a domain error.
func DomainErrorStatus(err error) int {
	var (
		validationErr *model.ValidationError
		searchErr     *model.SearchParseError
		notFoundErr   *model.NotFoundError
		unauthErr     *model.UnauthorizedError
		toolErr       *model.ToolNotInstalledError
		circularErr   *model.CircularReferenceError
	)
	switch {
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrReadOnlyMode):
		return http.StatusForbidden
	case errors.As(err, &unauthErr):
		return http.StatusForbidden
	case errors.Is(err, model.ErrReadOnlyResource):
		return http.StatusNotFound
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.Is(err, worker.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, model.ErrVacuousUpdate),
		errors.As(err, &validationErr),
		errors.As(err, &searchErr),
		errors.As(err, &toolErr),
		errors.As(err, &circularErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
