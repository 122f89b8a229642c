package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
)

func (s *Server) registerFormSearchRoutes() {
	s.router.HandleFunc("/formsearches", s.listFormSearches).Methods("GET")
	s.router.Handle("/formsearches", write(s.createFormSearch)).Methods("POST")
	s.router.HandleFunc("/formsearches/{id:[0-9]+}", s.getFormSearch).Methods("GET")
	s.router.Handle("/formsearches/{id:[0-9]+}", write(s.updateFormSearch)).Methods("PUT")
	s.router.Handle("/formsearches/{id:[0-9]+}", write(s.deleteFormSearch)).Methods("DELETE")
}

// formSearchInput carries the filter expression verbatim; it is validated by
// compiling it before it is saved.
type formSearchInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Search      json.RawMessage `json:"search"`
}

// validateFormSearch compiles the saved query so only executable searches
// are ever persisted.
func (s *Server) validateFormSearch(in *formSearchInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return model.NewValidationError("name", "Please enter a value")
	}
	if len(in.Search) == 0 {
		return model.NewValidationError("search", "Please enter a search expression")
	}
	var q queryc.Query
	if err := json.Unmarshal(in.Search, &q); err != nil {
		return model.NewValidationError("search",
			"The search expression is not valid JSON")
	}
	if _, err := queryc.NewCompiler(s.store.Dialect(), "Form").Compile(q); err != nil {
		return err
	}
	return nil
}

func (s *Server) listFormSearches(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	searches, total, err := s.store.ListFormSearches(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if searches == nil {
		searches = []model.FormSearch{}
	}
	writeListing(w, searches, total, p)
}

func (s *Server) getFormSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	fs, err := s.store.GetFormSearch(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, fs)
}

func (s *Server) createFormSearch(w http.ResponseWriter, r *http.Request) {
	var in formSearchInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := s.validateFormSearch(&in); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	fs := &model.FormSearch{
		Name:        strings.TrimSpace(in.Name),
		Search:      string(in.Search),
		Description: in.Description,
		Enterer:     s.currentUser(r),
	}
	if err := s.store.CreateFormSearch(r.Context(), fs); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate, "form search",
		fs.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, fs)
}

func (s *Server) updateFormSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetFormSearch(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in formSearchInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := s.validateFormSearch(&in); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	fs := &model.FormSearch{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Search:      string(in.Search),
		Description: in.Description,
		Enterer:     current.Enterer,
	}
	if err := s.store.UpdateFormSearch(ctx, fs); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate, "form search",
		id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, fs)
}

func (s *Server) deleteFormSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteFormSearch(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete, "form search",
		id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}
