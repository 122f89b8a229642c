package api

import (
	"net/http"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
)

func (s *Server) registerTagRoutes() {
	s.router.HandleFunc("/tags", s.listTags).Methods("GET")
	s.router.Handle("/tags", write(s.createTag)).Methods("POST")
	s.router.HandleFunc("/tags/{id:[0-9]+}", s.getTag).Methods("GET")
	s.router.Handle("/tags/{id:[0-9]+}", write(s.updateTag)).Methods("PUT")
	s.router.Handle("/tags/{id:[0-9]+}", write(s.deleteTag)).Methods("DELETE")
}

type tagInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) validateTagName(r *http.Request, in *tagInput, excludeID int) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.NewValidationError("name", "Please enter a value")
	}
	existing, err := s.store.TagByName(r.Context(), name)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != excludeID {
		return model.NewValidationError("name",
			"The submitted value for Tag.name is not unique")
	}
	return nil
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	tags, total, err := s.store.ListTags(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if tags == nil {
		tags = []model.Tag{}
	}
	writeListing(w, tags, total, p)
}

func (s *Server) getTag(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	t, err := s.store.GetTag(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, t)
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var in tagInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := s.validateTagName(r, &in, 0); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	t := &model.Tag{Name: strings.TrimSpace(in.Name), Description: in.Description}
	if err := s.store.CreateTag(r.Context(), t); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate, "tag",
		t.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, t)
}

func (s *Server) updateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetTag(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	// The restricted tag's name is load-bearing for visibility filtering.
	if current.Name == model.RestrictedTagName {
		httputil.WriteDomainError(w, &model.UnauthorizedError{Kind: "tag", ID: id})
		return
	}
	var in tagInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := s.validateTagName(r, &in, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	t := &model.Tag{ID: id, Name: strings.TrimSpace(in.Name), Description: in.Description}
	if err := s.store.UpdateTag(ctx, t); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate, "tag",
		id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, t)
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetTag(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if current.Name == model.RestrictedTagName {
		httputil.WriteDomainError(w, &model.UnauthorizedError{Kind: "tag", ID: id})
		return
	}
	deleted, err := s.store.DeleteTag(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete, "tag",
		id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}
