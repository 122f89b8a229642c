package middleware

import (
	"net/http"

	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
)

// ReadOnlyMiddleware rejects every mutating request while the instance runs
// in read-only mode. GET, HEAD, OPTIONS and the SEARCH verb pass through.
func ReadOnlyMiddleware(readOnly bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if readOnly {
				switch r.Method {
				case http.MethodGet, http.MethodHead, http.MethodOptions, "SEARCH":
				default:
					httputil.WriteDomainError(w, model.ErrReadOnlyMode)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
