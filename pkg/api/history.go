package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
)

// resourceHistory serves the edit history of one backed-up resource: the
// live row (nil if deleted) plus every backup snapshot, most recent first.
// The path parameter is either the live row's integer id or the resource's
// UUID. Because backups share the live row's UUID the history survives
// deletion, and the UUID address keeps working after the id is gone.
func (s *Server) resourceHistory(w http.ResponseWriter, r *http.Request, kind, key string,
	get func(ctx context.Context, id int) (interface{}, string, error)) {
	raw := mux.Vars(r)["id"]
	if id, err := strconv.Atoi(raw); err == nil {
		s.historyByID(w, r, kind, key, id, get)
		return
	}
	s.historyByUUID(w, r, kind, key, raw, get)
}

func (s *Server) historyByID(w http.ResponseWriter, r *http.Request, kind, key string,
	id int, get func(ctx context.Context, id int) (interface{}, string, error)) {
	ctx := r.Context()

	live, uuid, err := get(ctx, id)
	if err != nil {
		var nf *model.NotFoundError
		if !errors.As(err, &nf) {
			httputil.WriteDomainError(w, err)
			return
		}
		live = nil
	}

	var backups []model.Backup
	var berr error
	if uuid != "" {
		backups, berr = s.store.BackupsForUUID(ctx, kind, uuid)
	} else {
		backups, berr = s.store.BackupsForResourceID(ctx, kind, id)
	}
	if berr != nil {
		httputil.WriteInternalError(w, berr)
		return
	}
	if live == nil && len(backups) == 0 {
		httputil.WriteDomainError(w, &model.NotFoundError{Kind: kind, ID: id})
		return
	}
	writeHistory(w, key, live, backups)
}

func (s *Server) historyByUUID(w http.ResponseWriter, r *http.Request, kind, key, uuid string,
	get func(ctx context.Context, id int) (interface{}, string, error)) {
	ctx := r.Context()

	var live interface{}
	id, err := s.store.ResourceIDForUUID(ctx, kind, uuid)
	if err == nil {
		live, _, err = get(ctx, id)
		if err != nil {
			var nf *model.NotFoundError
			if !errors.As(err, &nf) {
				httputil.WriteDomainError(w, err)
				return
			}
			live = nil
		}
	} else {
		var nf *model.NotFoundError
		if !errors.As(err, &nf) {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	backups, err := s.store.BackupsForUUID(ctx, kind, uuid)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if live == nil && len(backups) == 0 {
		httputil.WriteErrorMessage(w, http.StatusNotFound,
			fmt.Sprintf("No %s has UUID %s", kind, uuid))
		return
	}
	writeHistory(w, key, live, backups)
}

func writeHistory(w http.ResponseWriter, key string, live interface{}, backups []model.Backup) {
	if backups == nil {
		backups = []model.Backup{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		key:                 live,
		"previous_versions": backups,
	})
}
