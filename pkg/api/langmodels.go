package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
)

// ToolkitMITLM is the only n-gram estimation toolkit currently wired in.
const ToolkitMITLM = "mitlm"

// MITLM smoothing algorithms accepted for the smoothing field.
var mitlmSmoothings = []string{"ML", "FixKN", "FixModKN", "KN", "ModKN"}

func (s *Server) registerLanguageModelRoutes() {
	s.router.HandleFunc("/morphemelanguagemodels", s.listLanguageModels).Methods("GET")
	s.router.Handle("/morphemelanguagemodels", write(s.createLanguageModel)).Methods("POST")
	s.router.HandleFunc("/morphemelanguagemodels/{id:[0-9]+}", s.getLanguageModel).Methods("GET")
	s.router.Handle("/morphemelanguagemodels/{id:[0-9]+}", write(s.updateLanguageModel)).Methods("PUT")
	s.router.Handle("/morphemelanguagemodels/{id:[0-9]+}", write(s.deleteLanguageModel)).Methods("DELETE")
	s.router.HandleFunc("/morphemelanguagemodels/{id}/history", s.languageModelHistory).Methods("GET")

	s.router.Handle("/morphemelanguagemodels/{id:[0-9]+}/generate", write(s.generateLanguageModel)).Methods("PUT")
	s.router.Handle("/morphemelanguagemodels/{id:[0-9]+}/compute_perplexity", write(s.computePerplexity)).Methods("PUT")
	s.router.HandleFunc("/morphemelanguagemodels/{id:[0-9]+}/get_probabilities", s.getProbabilities).Methods("PUT")
	s.router.HandleFunc("/morphemelanguagemodels/{id:[0-9]+}/serve_arpa", s.serveARPA).Methods("GET")
}

type languageModelInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	Corpus               *int `json:"corpus"`
	VocabularyMorphology *int `json:"vocabulary_morphology"`

	Toolkit    string `json:"toolkit"`
	Order      int    `json:"order"`
	Smoothing  string `json:"smoothing"`
	Categorial bool   `json:"categorial"`
}

func (in *languageModelInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Name) == "" {
		errs["name"] = "Please enter a value"
	}
	if in.Corpus == nil {
		errs["corpus"] = "Please choose a training corpus"
	}
	if in.Toolkit != "" && in.Toolkit != ToolkitMITLM {
		errs["toolkit"] = in.Toolkit + " is not a supported language model toolkit"
	}
	if in.Order != 0 && (in.Order < 2 || in.Order > 5) {
		errs["order"] = "The n-gram order must be between 2 and 5"
	}
	if in.Smoothing != "" {
		valid := false
		for _, sm := range mitlmSmoothings {
			if in.Smoothing == sm {
				valid = true
				break
			}
		}
		if !valid {
			errs["smoothing"] = in.Smoothing + " is not a valid MITLM smoothing algorithm"
		}
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (s *Server) buildLanguageModel(ctx context.Context, in *languageModelInput, user *model.UserRef) (*model.MorphemeLanguageModel, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	toolkit := in.Toolkit
	if toolkit == "" {
		toolkit = ToolkitMITLM
	}
	order := in.Order
	if order == 0 {
		order = 3
	}
	lm := &model.MorphemeLanguageModel{
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Toolkit:       toolkit,
		Order:         order,
		Smoothing:     in.Smoothing,
		Categorial:    in.Categorial,
		RareDelimiter: model.RareDelimiter,
		Enterer:       user,
		Modifier:      user,
	}
	c, err := s.store.GetCorpus(ctx, *in.Corpus)
	if err != nil {
		return nil, err
	}
	lm.Corpus = c
	if in.VocabularyMorphology != nil {
		m, err := s.store.GetMorphology(ctx, *in.VocabularyMorphology)
		if err != nil {
			return nil, err
		}
		lm.VocabularyMorphology = m
	}
	return lm, nil
}

func (s *Server) listLanguageModels(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	lms, total, err := s.store.ListLanguageModels(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if lms == nil {
		lms = []model.MorphemeLanguageModel{}
	}
	writeListing(w, lms, total, p)
}

func (s *Server) getLanguageModel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	lm, err := s.store.GetLanguageModel(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, lm)
}

func (s *Server) createLanguageModel(w http.ResponseWriter, r *http.Request) {
	var in languageModelInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	ctx := r.Context()
	lm, err := s.buildLanguageModel(ctx, &in, s.currentUser(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.store.CreateLanguageModel(ctx, lm); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate,
		model.KindMorphemeLanguageModel, lm.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, lm)
}

func (s *Server) updateLanguageModel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetLanguageModel(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in languageModelInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	lm, err := s.buildLanguageModel(ctx, &in, s.currentUser(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	lm.ID = current.ID
	lm.Enterer = current.Enterer
	if err := s.store.UpdateLanguageModel(ctx, lm); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	updated, err := s.store.GetLanguageModel(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate,
		model.KindMorphemeLanguageModel, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, updated)
}

func (s *Server) deleteLanguageModel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteLanguageModel(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.layout.RemoveResourceDir(layout.LMDir, id); err != nil {
		s.logger.WithError(err).WithField("language_model_id", id).
			Error("failed to remove language model artifacts")
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete,
		model.KindMorphemeLanguageModel, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

func (s *Server) languageModelHistory(w http.ResponseWriter, r *http.Request) {
	s.resourceHistory(w, r, model.KindMorphemeLanguageModel, "morpheme_language_model",
		func(ctx context.Context, id int) (interface{}, string, error) {
			lm, err := s.store.GetLanguageModel(ctx, id)
			if err != nil {
				return nil, "", err
			}
			return lm, lm.UUID, nil
		})
}

func (s *Server) generateLanguageModel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	lm, err := s.store.GetLanguageModel(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.mitlm.Installed(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	job := s.langmodels.GenerateJob(lm, s.delimiters(ctx))
	if err := s.store.SetAttempt(ctx, "morphemelanguagemodel", "generate_attempt", id, job.Attempt); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	lm.GenerateAttempt = job.Attempt
	if err := s.pool.Compile.Enqueue(job); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionParserCompile,
		model.KindMorphemeLanguageModel, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, map[string]interface{}{
		"morpheme_language_model": lm,
		"generate_attempt":        job.Attempt,
	})
}

// computePerplexity queues a cross-validated perplexity estimate of the LM
// against its own training corpus.
func (s *Server) computePerplexity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	lm, err := s.store.GetLanguageModel(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.mitlm.Installed(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	job := s.langmodels.PerplexityJob(lm, s.delimiters(ctx))
	if err := s.store.SetAttempt(ctx, "morphemelanguagemodel", "perplexity_attempt", id, job.Attempt); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	lm.PerplexityAttempt = job.Attempt
	if err := s.pool.Compile.Enqueue(job); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"morpheme_language_model": lm,
		"perplexity_attempt":      job.Attempt,
	})
}

func (s *Server) getProbabilities(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		MorphemeSequences [][]string `json:"morpheme_sequences"`
	}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if len(body.MorphemeSequences) == 0 {
		httputil.WriteDomainError(w, model.NewValidationError("morpheme_sequences",
			"Please enter one or more morpheme sequences"))
		return
	}
	lm, err := s.store.GetLanguageModel(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	probs, err := s.langmodels.GetProbabilities(lm, body.MorphemeSequences)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, probs)
}

func (s *Server) serveARPA(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	lm, err := s.store.GetLanguageModel(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	path := s.langmodels.ARPAPath(lm)
	if !lm.GenerateSucceeded {
		httputil.WriteDomainError(w, model.NewValidationError("generate",
			fmt.Sprintf("Language model %d has not been generated.", id)))
		return
	}
	if _, err := os.Stat(path); err != nil {
		httputil.WriteDomainError(w, model.NewValidationError("generate",
			fmt.Sprintf("Language model %d has not been generated.", id)))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, path)
}
