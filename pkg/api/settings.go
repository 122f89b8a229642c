package api

import (
	"fmt"
	"net/http"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
)

func (s *Server) registerSettingsRoutes() {
	s.router.HandleFunc("/applicationsettings", s.getSettings).Methods("GET")
	s.router.Handle("/applicationsettings", admin(s.saveSettings)).Methods("PUT")
}

type settingsInput struct {
	ObjectLanguageName  string `json:"object_language_name"`
	MetalanguageName    string `json:"metalanguage_name"`
	MorphemeDelimiters  string `json:"morpheme_delimiters"`
	UnrestrictedUserIDs []int  `json:"unrestricted_users"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	as, err := s.store.ApplicationSettings(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, as)
}

// saveSettings appends a new settings row. Every listed unrestricted user
// must exist; otherwise the restriction set would silently rot.
func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	var in settingsInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	ctx := r.Context()
	if len(in.UnrestrictedUserIDs) > 0 {
		known, err := s.store.UsersByIDs(ctx, in.UnrestrictedUserIDs)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		for _, id := range in.UnrestrictedUserIDs {
			if _, ok := known[id]; !ok {
				httputil.WriteDomainError(w, model.NewValidationError("unrestricted_users",
					fmt.Sprintf("There is no user with id %d", id)))
				return
			}
		}
	}
	as := &model.ApplicationSettings{
		ObjectLanguageName:  in.ObjectLanguageName,
		MetalanguageName:    in.MetalanguageName,
		MorphemeDelimiters:  in.MorphemeDelimiters,
		UnrestrictedUserIDs: in.UnrestrictedUserIDs,
	}
	if err := s.store.SaveApplicationSettings(ctx, as); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate,
		"application settings", as.ID, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, as)
}
