package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
)

// Markup languages the collection renderer understands.
var markupLanguages = []string{"markdown", "restructuredtext"}

func (s *Server) registerCollectionRoutes() {
	s.router.HandleFunc("/collections", s.listCollections).Methods("GET")
	s.router.Handle("/collections", write(s.createCollection)).Methods("POST")
	s.router.HandleFunc("/collections/search", s.searchCollections).Methods("POST")
	s.router.HandleFunc("/collections", s.searchCollections).Methods("SEARCH")
	s.router.HandleFunc("/collections/{id:[0-9]+}", s.getCollection).Methods("GET")
	s.router.Handle("/collections/{id:[0-9]+}", write(s.updateCollection)).Methods("PUT")
	s.router.Handle("/collections/{id:[0-9]+}", write(s.deleteCollection)).Methods("DELETE")
	s.router.HandleFunc("/collections/{id}/history", s.collectionHistory).Methods("GET")
}

type collectionInput struct {
	Title          string `json:"title"`
	Type           string `json:"type"`
	URL            string `json:"url"`
	Description    string `json:"description"`
	MarkupLanguage string `json:"markup_language"`
	Contents       string `json:"contents"`

	Elicitor *int  `json:"elicitor"`
	Tags     []int `json:"tags"`
	Files    []int `json:"files"`
}

func (in *collectionInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Title) == "" {
		errs["title"] = "Please enter a value"
	}
	if in.MarkupLanguage != "" {
		valid := false
		for _, ml := range markupLanguages {
			if strings.EqualFold(in.MarkupLanguage, ml) {
				valid = true
				break
			}
		}
		if !valid {
			errs["markup_language"] = in.MarkupLanguage + " is not a valid markup language"
		}
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (in *collectionInput) toCollection(user *model.UserRef) *model.Collection {
	c := &model.Collection{
		Title:          strings.TrimSpace(in.Title),
		Type:           in.Type,
		URL:            in.URL,
		Description:    in.Description,
		MarkupLanguage: in.MarkupLanguage,
		Contents:       in.Contents,
		Enterer:        user,
		Modifier:       user,
	}
	if in.Elicitor != nil {
		c.Elicitor = &model.UserRef{ID: *in.Elicitor}
	}
	for _, id := range in.Tags {
		c.Tags = append(c.Tags, model.Tag{ID: id})
	}
	for _, id := range in.Files {
		c.Files = append(c.Files, model.File{ID: id})
	}
	return c
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	cols, total, err := s.store.ListCollections(r.Context(), s.unrestricted(r), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if cols == nil {
		cols = []model.Collection{}
	}
	writeListing(w, cols, total, p)
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	c, err := s.store.GetCollection(r.Context(), id, s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, c)
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var in collectionInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	ctx := r.Context()
	c := in.toCollection(s.currentUser(r))
	if err := s.collections.Expand(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.guardCollectionReferents(ctx, r, c, in.Files); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.store.CreateCollection(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.restrictCollectionFromReferents(ctx, c, in.Files)
	created, err := s.store.GetCollection(ctx, c.ID, true)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate,
		model.KindCollection, created.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, created)
}

func (s *Server) updateCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetCollection(ctx, id, s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in collectionInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	c := in.toCollection(s.currentUser(r))
	c.ID = current.ID
	c.Enterer = current.Enterer
	if err := s.collections.Expand(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.guardCollectionReferents(ctx, r, c, in.Files); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.store.UpdateCollection(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.restrictCollectionFromReferents(ctx, c, in.Files)
	s.refreshReferencingCollections(ctx, id)
	updated, err := s.store.GetCollection(ctx, id, true)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate,
		model.KindCollection, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, updated)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := s.store.GetCollection(ctx, id, s.unrestricted(r)); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	deleted, err := s.store.DeleteCollection(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.collections.CascadeCollectionDeletion(ctx, id); err != nil {
		s.logger.WithError(err).WithField("collection_id", id).
			Error("failed to cascade collection deletion")
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete,
		model.KindCollection, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

func (s *Server) searchCollections(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	compiled, err := queryc.NewCompiler(s.store.Dialect(), "Collection").Compile(req.Query)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	limit, offset := req.Paginator.limitOffset()
	cols, total, err := s.store.SearchCollections(r.Context(), compiled, s.unrestricted(r), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if cols == nil {
		cols = []model.Collection{}
	}
	writeListing(w, cols, total, req.Paginator)
}

func (s *Server) collectionHistory(w http.ResponseWriter, r *http.Request) {
	s.resourceHistory(w, r, model.KindCollection, "collection",
		func(ctx context.Context, id int) (interface{}, string, error) {
			c, err := s.store.GetCollection(ctx, id, s.unrestricted(r))
			if err != nil {
				return nil, "", err
			}
			return c, c.UUID, nil
		})
}

// guardCollectionReferents rejects a save whose referenced forms or files
// the writer cannot see.
func (s *Server) guardCollectionReferents(ctx context.Context, r *http.Request, c *model.Collection, fileIDs []int) error {
	if s.unrestricted(r) {
		return nil
	}
	forms, err := s.store.RestrictedFormIDs(ctx, c.FormIDs)
	if err != nil {
		return err
	}
	if len(forms) > 0 {
		return &model.UnauthorizedError{Kind: "form", ID: forms[0]}
	}
	files, err := s.store.RestrictedFileIDs(ctx, fileIDs)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		return &model.UnauthorizedError{Kind: "file", ID: files[0]}
	}
	return nil
}

// restrictCollectionFromReferents extends the restricted tag from referenced
// forms and files to the collection itself, so a collection cannot leak
// restricted material.
func (s *Server) restrictCollectionFromReferents(ctx context.Context, c *model.Collection, fileIDs []int) {
	forms, err := s.store.RestrictedFormIDs(ctx, c.FormIDs)
	if err != nil {
		s.logger.WithError(err).WithField("collection_id", c.ID).
			Error("failed to check referenced forms for restriction")
		return
	}
	files, err := s.store.RestrictedFileIDs(ctx, fileIDs)
	if err != nil {
		s.logger.WithError(err).WithField("collection_id", c.ID).
			Error("failed to check referenced files for restriction")
		return
	}
	if len(forms) == 0 && len(files) == 0 {
		return
	}
	if err := s.store.TagCollectionRestricted(ctx, c.ID); err != nil {
		s.logger.WithError(err).WithField("collection_id", c.ID).
			Error("failed to restrict collection")
	}
}

// refreshReferencingCollections re-expands every collection embedding this
// one so their unpacked contents and form memberships track the change.
func (s *Server) refreshReferencingCollections(ctx context.Context, id int) {
	ids, err := s.store.CollectionsReferencingCollection(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("collection_id", id).
			Error("failed to find referencing collections")
		return
	}
	for _, refID := range ids {
		c, err := s.store.GetCollection(ctx, refID, true)
		if err != nil {
			s.logger.WithError(err).WithField("collection_id", refID).
				Error("failed to load referencing collection")
			continue
		}
		if err := s.collections.Expand(ctx, c); err != nil {
			s.logger.WithError(err).WithField("collection_id", refID).
				Error("failed to re-expand referencing collection")
			continue
		}
		if err := s.store.ForceUpdateCollection(ctx, c); err != nil {
			s.logger.WithError(err).WithField("collection_id", refID).
				Error("failed to persist re-expanded collection")
		}
	}
}
