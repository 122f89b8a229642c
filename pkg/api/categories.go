package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
)

// Syntactic category types.
var categoryTypes = []string{"lexical", "phrasal", "sentential"}

func (s *Server) registerCategoryRoutes() {
	s.router.HandleFunc("/syntacticcategories", s.listCategories).Methods("GET")
	s.router.Handle("/syntacticcategories", write(s.createCategory)).Methods("POST")
	s.router.HandleFunc("/syntacticcategories/{id:[0-9]+}", s.getCategory).Methods("GET")
	s.router.Handle("/syntacticcategories/{id:[0-9]+}", write(s.updateCategory)).Methods("PUT")
	s.router.Handle("/syntacticcategories/{id:[0-9]+}", write(s.deleteCategory)).Methods("DELETE")
}

type categoryInput struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (in *categoryInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Name) == "" {
		errs["name"] = "Please enter a value"
	}
	if in.Type != "" {
		valid := false
		for _, t := range categoryTypes {
			if in.Type == t {
				valid = true
				break
			}
		}
		if !valid {
			errs["type"] = in.Type + " is not a valid syntactic category type"
		}
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	cats, total, err := s.store.ListSyntacticCategories(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if cats == nil {
		cats = []model.SyntacticCategory{}
	}
	writeListing(w, cats, total, p)
}

func (s *Server) getCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	c, err := s.store.GetSyntacticCategory(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, c)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var in categoryInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	c := &model.SyntacticCategory{
		Name:        strings.TrimSpace(in.Name),
		Type:        in.Type,
		Description: in.Description,
	}
	if err := s.store.CreateSyntacticCategory(r.Context(), c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate,
		"syntactic category", c.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, c)
}

// updateCategory renames a category and recomputes the morpheme
// cross-references of forms categorized by it, since the category name is
// baked into break_gloss_category strings.
func (s *Server) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetSyntacticCategory(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in categoryInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	c := &model.SyntacticCategory{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Type:        in.Type,
		Description: in.Description,
	}
	if err := s.store.UpdateSyntacticCategory(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if current.Name != c.Name {
		s.recomputeAllForms(ctx)
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate,
		"syntactic category", id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, c)
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	deleted, err := s.store.DeleteSyntacticCategory(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.recomputeAllForms(ctx)
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete,
		"syntactic category", id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

func (s *Server) recomputeAllForms(ctx context.Context) {
	ids, err := s.store.AllFormIDs(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to list form ids for recompute")
		return
	}
	s.recomputeForms(ctx, ids, s.delimiters(ctx))
}
