package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/corpus"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
)

func (s *Server) registerCorpusRoutes() {
	s.router.HandleFunc("/corpora", s.listCorpora).Methods("GET")
	s.router.Handle("/corpora", write(s.createCorpus)).Methods("POST")
	s.router.HandleFunc("/corpora/{id:[0-9]+}", s.getCorpus).Methods("GET")
	s.router.Handle("/corpora/{id:[0-9]+}", write(s.updateCorpus)).Methods("PUT")
	s.router.Handle("/corpora/{id:[0-9]+}", write(s.deleteCorpus)).Methods("DELETE")
	s.router.HandleFunc("/corpora/{id}/history", s.corpusHistory).Methods("GET")

	s.router.Handle("/corpora/{id:[0-9]+}/writetofile", write(s.writeCorpusToFile)).Methods("PUT")
	s.router.HandleFunc("/corpora/{id:[0-9]+}/servefile/{file_id:[0-9]+}", s.serveCorpusFile).Methods("GET")
	s.router.HandleFunc("/corpora/{id:[0-9]+}/search", s.searchCorpus).Methods("POST")
	s.router.HandleFunc("/corpora/{id:[0-9]+}", s.searchCorpus).Methods("SEARCH")
	s.router.HandleFunc("/corpora/{id:[0-9]+}/search_treebank", s.searchTreebank).Methods("POST")
	s.router.HandleFunc("/corpora/{id:[0-9]+}/tgrep2", s.searchTreebank).Methods("SEARCH")
	s.router.HandleFunc("/corpora/{id:[0-9]+}/get_word_category_sequences", s.wordCategorySequences).Methods("GET")
}

type corpusInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
	FormSearch  *int   `json:"form_search"`
	Tags        []int  `json:"tags"`
}

func (in *corpusInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Name) == "" {
		errs["name"] = "Please enter a value"
	}
	if strings.TrimSpace(in.Content) != "" && in.FormSearch != nil {
		errs["content"] = "A corpus may be defined by its content or by a form search, not both"
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

// buildCorpus resolves the input into a corpus, loading the saved search
// when one determines membership. Every id the content names must be a
// live form, and one the writer may see.
func (s *Server) buildCorpus(ctx context.Context, in *corpusInput, user *model.UserRef, unrestricted bool) (*model.Corpus, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	ids, err := model.ParseContentIDs(in.Content)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		existing, err := s.store.ExistingFormIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(existing) != len(ids) {
			present := make(map[int]bool, len(existing))
			for _, id := range existing {
				present[id] = true
			}
			for _, id := range ids {
				if !present[id] {
					return nil, model.NewValidationError("content",
						fmt.Sprintf("There is no form with id %d.", id))
				}
			}
		}
		if !unrestricted {
			restricted, err := s.store.RestrictedFormIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			if len(restricted) > 0 {
				return nil, &model.UnauthorizedError{Kind: "form", ID: restricted[0]}
			}
		}
	}
	c := &model.Corpus{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Content:     in.Content,
		Enterer:     user,
		Modifier:    user,
	}
	if in.FormSearch != nil {
		fs, err := s.store.GetFormSearch(ctx, *in.FormSearch)
		if err != nil {
			return nil, err
		}
		c.FormSearch = fs
	}
	for _, id := range in.Tags {
		c.Tags = append(c.Tags, model.Tag{ID: id})
	}
	return c, nil
}

func (s *Server) listCorpora(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	corpora, total, err := s.store.ListCorpora(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if corpora == nil {
		corpora = []model.Corpus{}
	}
	writeListing(w, corpora, total, p)
}

func (s *Server) getCorpus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	c, err := s.store.GetCorpus(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, c)
}

func (s *Server) createCorpus(w http.ResponseWriter, r *http.Request) {
	var in corpusInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	ctx := r.Context()
	c, err := s.buildCorpus(ctx, &in, s.currentUser(r), s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.store.CreateCorpus(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if _, err := s.corpora.Sync(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	created, err := s.store.GetCorpus(ctx, c.ID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate,
		model.KindCorpus, created.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, created)
}

func (s *Server) updateCorpus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetCorpus(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in corpusInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	c, err := s.buildCorpus(ctx, &in, s.currentUser(r), s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	c.ID = current.ID
	c.Enterer = current.Enterer
	if err := s.store.UpdateCorpus(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if _, err := s.corpora.Sync(ctx, c); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	updated, err := s.store.GetCorpus(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate,
		model.KindCorpus, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, updated)
}

func (s *Server) deleteCorpus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	deleted, err := s.store.DeleteCorpus(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.layout.RemoveResourceDir(layout.CorporaDir, id); err != nil {
		s.logger.WithError(err).WithField("corpus_id", id).
			Error("failed to remove corpus file directory")
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete,
		model.KindCorpus, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

func (s *Server) corpusHistory(w http.ResponseWriter, r *http.Request) {
	s.resourceHistory(w, r, model.KindCorpus, "corpus",
		func(ctx context.Context, id int) (interface{}, string, error) {
			c, err := s.store.GetCorpus(ctx, id)
			if err != nil {
				return nil, "", err
			}
			return c, c.UUID, nil
		})
}

// writeCorpusToFile queues serialization of the corpus to disk in the
// requested format. A busy corpus queue refuses immediately.
func (s *Server) writeCorpusToFile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Format string `json:"format"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	ctx := r.Context()
	c, err := s.store.GetCorpus(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if _, err := s.corpora.FilePath(c.ID, body.Format); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if body.Format == corpus.FormatTreebank {
		if err := s.tgrep2.Installed(); err != nil {
			httputil.WriteDomainError(w, err)
			return
		}
	}
	job := s.corpora.WriteToFileJob(c, body.Format, s.currentUser(r))
	if err := s.pool.Corpus.Enqueue(job); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"corpus":        c,
		"write_attempt": job.Attempt,
	})
}

func (s *Server) serveCorpusFile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathIntOrError(w, r, "file_id")
	if !ok {
		return
	}
	ctx := r.Context()
	cf, err := s.store.GetCorpusFile(ctx, id, fileID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	path, err := s.corpora.FilePath(id, cf.Format)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		httputil.WriteDomainError(w, &model.NotFoundError{Kind: "corpus file", ID: fileID})
		return
	}
	w.Header().Set("Content-Type", corpus.ContentType(cf.Filename))
	http.ServeFile(w, r, path)
}

// searchCorpus runs a form search constrained to the corpus's membership.
func (s *Server) searchCorpus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := r.Context()
	if _, err := s.store.GetCorpus(ctx, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	compiled, err := queryc.NewCompiler(s.store.Dialect(), "Form").Compile(req.Query)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	forms, _, err := s.store.SearchForms(ctx, compiled, s.unrestricted(r), 0, 0)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	memberIDs, err := s.store.CorpusFormIDs(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	members := make(map[int]bool, len(memberIDs))
	for _, fid := range memberIDs {
		members[fid] = true
	}
	matched := make([]model.Form, 0, len(forms))
	for _, f := range forms {
		if members[f.ID] {
			matched = append(matched, f)
		}
	}
	total := int64(len(matched))
	if limit, offset := req.Paginator.limitOffset(); limit > 0 {
		if offset > len(matched) {
			offset = len(matched)
		}
		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[offset:end]
	}
	writeListing(w, matched, total, req.Paginator)
}

func (s *Server) searchTreebank(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Pattern   string     `json:"tgrep2pattern"`
		Paginator *Paginator `json:"paginator"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Pattern) == "" {
		httputil.WriteDomainError(w, model.NewValidationError("tgrep2pattern",
			"Please enter a tgrep2 pattern"))
		return
	}
	ctx := r.Context()
	c, err := s.store.GetCorpus(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	matches, err := s.corpora.SearchTreebank(ctx, c, body.Pattern, s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if matches == nil {
		matches = []corpus.Match{}
	}
	total := int64(len(matches))
	if limit, offset := body.Paginator.limitOffset(); limit > 0 {
		if offset > len(matches) {
			offset = len(matches)
		}
		end := offset + limit
		if end > len(matches) {
			end = len(matches)
		}
		matches = matches[offset:end]
	}
	writeListing(w, matches, total, body.Paginator)
}

func (s *Server) wordCategorySequences(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	c, err := s.store.GetCorpus(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	minCount, err := httputil.ParseQueryInt(r, "min_count", 0)
	if err != nil {
		httputil.WriteDomainError(w, model.NewValidationError("min_count",
			"Please enter an integer"))
		return
	}
	sequences, err := s.corpora.WordCategorySequences(ctx, c, s.delimiters(ctx), minCount)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if sequences == nil {
		sequences = []corpus.CategorySequence{}
	}
	httputil.WriteSuccess(w, sequences)
}
