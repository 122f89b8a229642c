package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
	"github.com/dativebase/old/pkg/worker"
)

// Form statuses.
const (
	StatusTested          = "tested"
	StatusRequiresTesting = "requires testing"
)

func (s *Server) registerFormRoutes() {
	s.router.HandleFunc("/forms", s.listForms).Methods("GET")
	s.router.Handle("/forms", write(s.createForm)).Methods("POST")
	s.router.HandleFunc("/forms/search", s.searchForms).Methods("POST")
	s.router.HandleFunc("/forms", s.searchForms).Methods("SEARCH")
	s.router.HandleFunc("/forms/{id:[0-9]+}", s.getForm).Methods("GET")
	s.router.Handle("/forms/{id:[0-9]+}", write(s.updateForm)).Methods("PUT")
	s.router.Handle("/forms/{id:[0-9]+}", write(s.deleteForm)).Methods("DELETE")
	s.router.HandleFunc("/forms/{id}/history", s.formHistory).Methods("GET")
	s.router.Handle("/forms/update_morpheme_references", admin(s.updateMorphemeReferences)).Methods("PUT")
}

// updateMorphemeReferences queues a rebuild of every form's morpheme
// cross-references against the current lexicon. Bulk imports and restored
// backups can leave stale references behind; this repairs them.
func (s *Server) updateMorphemeReferences(w http.ResponseWriter, r *http.Request) {
	delimiters := s.delimiters(r.Context())
	job := worker.Job{
		Name:    "update_morpheme_references",
		Attempt: uuid.NewString(),
		Run: func(ctx context.Context) error {
			ids, err := s.store.AllFormIDs(ctx)
			if err != nil {
				return err
			}
			s.recomputeForms(ctx, ids, delimiters)
			return nil
		},
	}
	if err := s.pool.Corpus.Enqueue(job); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"update_attempt": job.Attempt})
}

// formInput is the wire shape of a form create/update request. Relational
// references arrive as ids.
type formInput struct {
	Transcription               string `json:"transcription"`
	PhoneticTranscription       string `json:"phonetic_transcription"`
	NarrowPhoneticTranscription string `json:"narrow_phonetic_transcription"`
	MorphemeBreak               string `json:"morpheme_break"`
	MorphemeGloss               string `json:"morpheme_gloss"`
	Grammaticality              string `json:"grammaticality"`
	Comments                    string `json:"comments"`
	SpeakerComments             string `json:"speaker_comments"`
	Syntax                      string `json:"syntax"`
	Semantics                   string `json:"semantics"`
	Status                      string `json:"status"`

	SyntacticCategory *int `json:"syntactic_category"`
	Elicitor          *int `json:"elicitor"`
	Verifier          *int `json:"verifier"`

	DateElicited *time.Time `json:"date_elicited"`

	Translations []model.Translation `json:"translations"`
	Tags         []int               `json:"tags"`
	Files        []int               `json:"files"`
}

func (in *formInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Transcription) == "" {
		errs["transcription"] = "Please enter a value"
	}
	translated := false
	for _, tr := range in.Translations {
		if strings.TrimSpace(tr.Transcription) != "" {
			translated = true
			break
		}
	}
	if !translated {
		errs["translations"] = "Please enter one or more translations"
	}
	if in.Status != "" && in.Status != StatusTested && in.Status != StatusRequiresTesting {
		errs["status"] = "Got an unexpected value for the status field: " + in.Status
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (in *formInput) toForm(user *model.UserRef) *model.Form {
	status := in.Status
	if status == "" {
		status = StatusTested
	}
	f := &model.Form{
		Transcription:               in.Transcription,
		PhoneticTranscription:       in.PhoneticTranscription,
		NarrowPhoneticTranscription: in.NarrowPhoneticTranscription,
		MorphemeBreak:               in.MorphemeBreak,
		MorphemeGloss:               in.MorphemeGloss,
		Grammaticality:              in.Grammaticality,
		Comments:                    in.Comments,
		SpeakerComments:             in.SpeakerComments,
		Syntax:                      in.Syntax,
		Semantics:                   in.Semantics,
		Status:                      status,
		DateElicited:                in.DateElicited,
		Translations:                in.Translations,
		Enterer:                     user,
		Modifier:                    user,
	}
	if in.SyntacticCategory != nil {
		f.SyntacticCategory = &model.SyntacticCategory{ID: *in.SyntacticCategory}
	}
	if in.Elicitor != nil {
		f.Elicitor = &model.UserRef{ID: *in.Elicitor}
	}
	if in.Verifier != nil {
		f.Verifier = &model.UserRef{ID: *in.Verifier}
	}
	for _, id := range in.Tags {
		f.Tags = append(f.Tags, model.Tag{ID: id})
	}
	for _, id := range in.Files {
		f.Files = append(f.Files, model.File{ID: id})
	}
	return f
}

func (s *Server) listForms(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	forms, total, err := s.store.ListForms(r.Context(), s.unrestricted(r), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if forms == nil {
		forms = []model.Form{}
	}
	writeListing(w, forms, total, p)
}

func (s *Server) getForm(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	f, err := s.store.GetForm(r.Context(), id, s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, f)
}

func (s *Server) createForm(w http.ResponseWriter, r *http.Request) {
	var in formInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	ctx := r.Context()
	delims := s.delimiters(ctx)
	f := in.toForm(s.currentUser(r))
	if err := s.store.ComputeMorphemeReferences(ctx, f, delims); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.store.CreateForm(ctx, f); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	created, err := s.store.GetForm(ctx, f.ID, true)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.restrictAttachedFiles(ctx, created)
	s.propagateMorphemeReferences(ctx, created, delims)
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate, model.KindForm,
		created.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, created)
}

func (s *Server) updateForm(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetForm(ctx, id, s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in formInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	delims := s.delimiters(ctx)
	f := in.toForm(s.currentUser(r))
	f.ID = current.ID
	f.Enterer = current.Enterer
	if err := s.store.ComputeMorphemeReferences(ctx, f, delims); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.store.UpdateForm(ctx, f); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	updated, err := s.store.GetForm(ctx, f.ID, true)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.restrictAttachedFiles(ctx, updated)
	// The pre-update morpheme identity may have been cited too.
	s.propagateMorphemeReferences(ctx, current, delims)
	s.propagateMorphemeReferences(ctx, updated, delims)
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate, model.KindForm,
		updated.ID, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, updated)
}

func (s *Server) deleteForm(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := s.store.GetForm(ctx, id, s.unrestricted(r)); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	deleted, err := s.store.DeleteForm(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	delims := s.delimiters(ctx)
	if err := s.collections.CascadeFormDeletion(ctx, id); err != nil {
		s.logger.WithError(err).WithField("form_id", id).
			Error("failed to cascade form deletion through collections")
	}
	s.propagateMorphemeReferences(ctx, deleted, delims)
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete, model.KindForm,
		id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

// searchRequest is the body of every search endpoint: a list-form filter
// expression plus optional paging.
type searchRequest struct {
	Query     queryc.Query `json:"query"`
	Paginator *Paginator   `json:"paginator"`
}

func (s *Server) searchForms(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	compiled, err := queryc.NewCompiler(s.store.Dialect(), "Form").Compile(req.Query)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	limit, offset := req.Paginator.limitOffset()
	forms, total, err := s.store.SearchForms(r.Context(), compiled, s.unrestricted(r), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if forms == nil {
		forms = []model.Form{}
	}
	writeListing(w, forms, total, req.Paginator)
}

func (s *Server) formHistory(w http.ResponseWriter, r *http.Request) {
	s.resourceHistory(w, r, model.KindForm, "form",
		func(ctx context.Context, id int) (interface{}, string, error) {
			f, err := s.store.GetForm(ctx, id, s.unrestricted(r))
			if err != nil {
				return nil, "", err
			}
			return f, f.UUID, nil
		})
}

// restrictAttachedFiles extends the restricted tag from a form to its
// files, so a restricted form cannot leak data through its attachments.
func (s *Server) restrictAttachedFiles(ctx context.Context, f *model.Form) {
	if !f.HasTag(model.RestrictedTagName) {
		return
	}
	for _, file := range f.Files {
		if err := s.store.TagFileRestricted(ctx, file.ID); err != nil {
			s.logger.WithError(err).WithField("file_id", file.ID).
				Error("failed to restrict attached file")
		}
	}
}

// propagateMorphemeReferences recomputes the cross-references of forms that
// cite this form as a morpheme. Only a lexical form, a single morpheme with
// no internal delimiters, can be cited.
func (s *Server) propagateMorphemeReferences(ctx context.Context, f *model.Form, delimiters []string) {
	if !isLexical(f, delimiters) {
		return
	}
	ids, err := s.store.FormIDsContainingMorpheme(ctx, f.MorphemeBreak, f.MorphemeGloss, f.ID)
	if err != nil {
		s.logger.WithError(err).WithField("form_id", f.ID).
			Error("failed to find forms citing morpheme")
		return
	}
	s.recomputeForms(ctx, ids, delimiters)
}

func (s *Server) recomputeForms(ctx context.Context, ids []int, delimiters []string) {
	if len(ids) == 0 {
		return
	}
	forms, err := s.store.FormsByIDs(ctx, ids, false)
	if err != nil {
		s.logger.WithError(err).Error("failed to load forms for reference recompute")
		return
	}
	for i := range forms {
		f := &forms[i]
		if err := s.store.ComputeMorphemeReferences(ctx, f, delimiters); err != nil {
			s.logger.WithError(err).WithField("form_id", f.ID).
				Error("failed to recompute morpheme references")
			continue
		}
		if err := s.store.PersistMorphemeReferences(ctx, f); err != nil {
			s.logger.WithError(err).WithField("form_id", f.ID).
				Error("failed to persist morpheme references")
		}
	}
}

func isLexical(f *model.Form, delimiters []string) bool {
	mb := strings.TrimSpace(f.MorphemeBreak)
	if mb == "" || strings.ContainsAny(mb, " \t") {
		return false
	}
	return len(model.SplitMorphemes(mb, delimiters)) == 1
}
