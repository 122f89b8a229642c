package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
)

func (s *Server) registerMorphologyRoutes() {
	s.router.HandleFunc("/morphologies", s.listMorphologies).Methods("GET")
	s.router.Handle("/morphologies", write(s.createMorphology)).Methods("POST")
	s.router.HandleFunc("/morphologies/{id:[0-9]+}", s.getMorphology).Methods("GET")
	s.router.Handle("/morphologies/{id:[0-9]+}", write(s.updateMorphology)).Methods("PUT")
	s.router.Handle("/morphologies/{id:[0-9]+}", write(s.deleteMorphology)).Methods("DELETE")
	s.router.HandleFunc("/morphologies/{id}/history", s.morphologyHistory).Methods("GET")

	s.router.Handle("/morphologies/{id:[0-9]+}/generate", write(s.generateMorphology)).Methods("PUT")
	s.router.Handle("/morphologies/{id:[0-9]+}/generate_and_compile", write(s.generateAndCompileMorphology)).Methods("PUT")
	s.router.Handle("/morphologies/{id:[0-9]+}/applyup", write(s.applyUpMorphology)).Methods("PUT")
	s.router.Handle("/morphologies/{id:[0-9]+}/applydown", write(s.applyDownMorphology)).Methods("PUT")
	s.router.HandleFunc("/morphologies/{id:[0-9]+}/servecompiled", s.serveMorphologyBinary).Methods("GET")
}

type morphologyInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ScriptType  string `json:"script_type"`
	Rules       string `json:"rules"`

	RulesCorpus   *int `json:"rules_corpus"`
	LexiconCorpus *int `json:"lexicon_corpus"`

	RichUpper                       bool `json:"rich_upper"`
	RichLower                       bool `json:"rich_lower"`
	IncludeUnknowns                 bool `json:"include_unknowns"`
	ExtractMorphemesFromRulesCorpus bool `json:"extract_morphemes_from_rules_corpus"`
}

func (in *morphologyInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Name) == "" {
		errs["name"] = "Please enter a value"
	}
	switch in.ScriptType {
	case "", model.ScriptTypeLexc, model.ScriptTypeRegex:
	default:
		errs["script_type"] = in.ScriptType + " is not a valid morphology script type"
	}
	if strings.TrimSpace(in.Rules) == "" && in.RulesCorpus == nil {
		errs["rules"] = "A morphology needs either explicit rules or a rules corpus"
	}
	if in.LexiconCorpus == nil && !in.ExtractMorphemesFromRulesCorpus {
		errs["lexicon_corpus"] = "A morphology needs a lexicon corpus unless morphemes are extracted from the rules corpus"
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (s *Server) buildMorphology(ctx context.Context, in *morphologyInput, user *model.UserRef) (*model.Morphology, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	scriptType := in.ScriptType
	if scriptType == "" {
		scriptType = model.ScriptTypeLexc
	}
	m := &model.Morphology{
		Name:                            strings.TrimSpace(in.Name),
		Description:                     in.Description,
		ScriptType:                      scriptType,
		Rules:                           in.Rules,
		RichUpper:                       in.RichUpper,
		RichLower:                       in.RichLower,
		IncludeUnknowns:                 in.IncludeUnknowns,
		ExtractMorphemesFromRulesCorpus: in.ExtractMorphemesFromRulesCorpus,
		RareDelimiter:                   model.RareDelimiter,
		Enterer:                         user,
		Modifier:                        user,
	}
	if in.RulesCorpus != nil {
		c, err := s.store.GetCorpus(ctx, *in.RulesCorpus)
		if err != nil {
			return nil, err
		}
		m.RulesCorpus = c
	}
	if in.LexiconCorpus != nil {
		c, err := s.store.GetCorpus(ctx, *in.LexiconCorpus)
		if err != nil {
			return nil, err
		}
		m.LexiconCorpus = c
	}
	return m, nil
}

func (s *Server) listMorphologies(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	morphs, total, err := s.store.ListMorphologies(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if morphs == nil {
		morphs = []model.Morphology{}
	}
	writeListing(w, morphs, total, p)
}

func (s *Server) getMorphology(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	m, err := s.store.GetMorphology(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

func (s *Server) createMorphology(w http.ResponseWriter, r *http.Request) {
	var in morphologyInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	ctx := r.Context()
	m, err := s.buildMorphology(ctx, &in, s.currentUser(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.store.CreateMorphology(ctx, m); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate,
		model.KindMorphology, m.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, m)
}

func (s *Server) updateMorphology(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetMorphology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in morphologyInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	m, err := s.buildMorphology(ctx, &in, s.currentUser(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	m.ID = current.ID
	m.Enterer = current.Enterer
	if err := s.store.UpdateMorphology(ctx, m); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	updated, err := s.store.GetMorphology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate,
		model.KindMorphology, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, updated)
}

func (s *Server) deleteMorphology(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteMorphology(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.layout.RemoveResourceDir(layout.MorphologyDir, id); err != nil {
		s.logger.WithError(err).WithField("morphology_id", id).
			Error("failed to remove morphology artifacts")
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete,
		model.KindMorphology, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

func (s *Server) morphologyHistory(w http.ResponseWriter, r *http.Request) {
	s.resourceHistory(w, r, model.KindMorphology, "morphology",
		func(ctx context.Context, id int) (interface{}, string, error) {
			m, err := s.store.GetMorphology(ctx, id)
			if err != nil {
				return nil, "", err
			}
			return m, m.UUID, nil
		})
}

func (s *Server) generateMorphology(w http.ResponseWriter, r *http.Request) {
	s.queueMorphologyJob(w, r, false)
}

func (s *Server) generateAndCompileMorphology(w http.ResponseWriter, r *http.Request) {
	s.queueMorphologyJob(w, r, true)
}

// queueMorphologyJob queues script generation, optionally followed by a
// foma compile, on the compile queue.
func (s *Server) queueMorphologyJob(w http.ResponseWriter, r *http.Request, compile bool) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	m, err := s.store.GetMorphology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if compile {
		if err := s.foma.Installed(); err != nil {
			httputil.WriteDomainError(w, err)
			return
		}
	}
	job := s.morphologies.GenerateAndCompileJob(m, s.delimiters(ctx), compile)
	if err := s.store.SetAttempt(ctx, "morphology", "generate_attempt", id, job.Attempt); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	m.GenerateAttempt = job.Attempt
	if err := s.pool.Compile.Enqueue(job); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionParserCompile,
		model.KindMorphology, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, map[string]interface{}{
		"morphology":       m,
		"generate_attempt": job.Attempt,
	})
}

func (s *Server) applyUpMorphology(w http.ResponseWriter, r *http.Request) {
	s.applyMorphology(w, r, true)
}

func (s *Server) applyDownMorphology(w http.ResponseWriter, r *http.Request) {
	s.applyMorphology(w, r, false)
}

func (s *Server) applyMorphology(w http.ResponseWriter, r *http.Request, up bool) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	var in applyInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	ctx := r.Context()
	m, err := s.store.GetMorphology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var out map[string][]string
	if up {
		out, err = s.morphologies.ApplyUp(ctx, m, in.Transcriptions)
	} else {
		out, err = s.morphologies.ApplyDown(ctx, m, in.Transcriptions)
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

func (s *Server) serveMorphologyBinary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	m, err := s.store.GetMorphology(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.serveBinary(w, r, s.morphologies.BinaryPath(m), m.CompileSucceeded,
		fmt.Sprintf("Morphology %d has not been compiled.", id))
}
