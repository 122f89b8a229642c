// Package httputil writes the JSON envelopes of the OLD API and parses the
// request shapes its handlers share.
//
// Every failing request carries `{"error": message}`; WriteDomainError maps
// the domain error types onto HTTP statuses in one place:
//
//	if err := store.UpdateForm(ctx, form); err != nil {
//		httputil.WriteDomainError(w, err)
//		return
//	}
//
// Handlers parse their inputs with the OrError helpers, which answer 400
// themselves so the caller can bail with a bare return:
//
//	var in formInput
//	if !httputil.ParseJSONOrError(w, r, &in) {
//		return
//	}
//	id, ok := httputil.ParsePathIntOrError(w, r, "id")
//
// RequestIDMiddleware and RecoveryMiddleware wrap the whole router; the
// authentication and authorization middleware live in pkg/middleware.
package httputil
