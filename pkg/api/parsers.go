package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
)

func (s *Server) registerParserRoutes() {
	s.router.HandleFunc("/morphologicalparsers", s.listParsers).Methods("GET")
	s.router.Handle("/morphologicalparsers", write(s.createParser)).Methods("POST")
	s.router.HandleFunc("/morphologicalparsers/{id:[0-9]+}", s.getParser).Methods("GET")
	s.router.Handle("/morphologicalparsers/{id:[0-9]+}", write(s.updateParser)).Methods("PUT")
	s.router.Handle("/morphologicalparsers/{id:[0-9]+}", write(s.deleteParser)).Methods("DELETE")
	s.router.HandleFunc("/morphologicalparsers/{id}/history", s.parserHistory).Methods("GET")

	s.router.Handle("/morphologicalparsers/{id:[0-9]+}/generate", write(s.generateParser)).Methods("PUT")
	s.router.Handle("/morphologicalparsers/{id:[0-9]+}/generate_and_compile", write(s.generateAndCompileParser)).Methods("PUT")
	s.router.Handle("/morphologicalparsers/{id:[0-9]+}/applyup", write(s.applyUpParser)).Methods("PUT")
	s.router.Handle("/morphologicalparsers/{id:[0-9]+}/applydown", write(s.applyDownParser)).Methods("PUT")
	s.router.HandleFunc("/morphologicalparsers/{id:[0-9]+}/parse", s.parse).Methods("PUT")
	s.router.HandleFunc("/morphologicalparsers/{id:[0-9]+}/export", s.exportParser).Methods("GET")
	s.router.HandleFunc("/morphologicalparsers/{id:[0-9]+}/servecompiled", s.serveParserBinary).Methods("GET")
}

type parserInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	Phonology     *int `json:"phonology"`
	Morphology    *int `json:"morphology"`
	LanguageModel *int `json:"language_model"`
}

func (in *parserInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Name) == "" {
		errs["name"] = "Please enter a value"
	}
	if in.Phonology == nil {
		errs["phonology"] = "Please choose a phonology"
	}
	if in.Morphology == nil {
		errs["morphology"] = "Please choose a morphology"
	}
	if in.LanguageModel == nil {
		errs["language_model"] = "Please choose a language model"
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (s *Server) buildParser(ctx context.Context, in *parserInput, user *model.UserRef) (*model.MorphologicalParser, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := &model.MorphologicalParser{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Enterer:     user,
		Modifier:    user,
	}
	phon, err := s.store.GetPhonology(ctx, *in.Phonology)
	if err != nil {
		return nil, err
	}
	p.Phonology = phon
	morph, err := s.store.GetMorphology(ctx, *in.Morphology)
	if err != nil {
		return nil, err
	}
	p.Morphology = morph
	lm, err := s.store.GetLanguageModel(ctx, *in.LanguageModel)
	if err != nil {
		return nil, err
	}
	p.LanguageModel = lm
	if err := p.CheckComponentCompatibility(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Server) listParsers(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	parsers, total, err := s.store.ListParsers(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if parsers == nil {
		parsers = []model.MorphologicalParser{}
	}
	writeListing(w, parsers, total, p)
}

func (s *Server) getParser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.GetParser(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

func (s *Server) createParser(w http.ResponseWriter, r *http.Request) {
	var in parserInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	ctx := r.Context()
	p, err := s.buildParser(ctx, &in, s.currentUser(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.store.CreateParser(ctx, p); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate,
		model.KindMorphologicalParser, p.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, p)
}

func (s *Server) updateParser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetParser(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in parserInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	p, err := s.buildParser(ctx, &in, s.currentUser(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	p.ID = current.ID
	p.Enterer = current.Enterer
	if err := s.store.UpdateParser(ctx, p); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	updated, err := s.store.GetParser(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate,
		model.KindMorphologicalParser, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, updated)
}

func (s *Server) deleteParser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	deleted, err := s.store.DeleteParser(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.layout.RemoveResourceDir(layout.ParserDir, id); err != nil {
		s.logger.WithError(err).WithField("parser_id", id).
			Error("failed to remove parser artifacts")
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete,
		model.KindMorphologicalParser, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

func (s *Server) parserHistory(w http.ResponseWriter, r *http.Request) {
	s.resourceHistory(w, r, model.KindMorphologicalParser, "morphological_parser",
		func(ctx context.Context, id int) (interface{}, string, error) {
			p, err := s.store.GetParser(ctx, id)
			if err != nil {
				return nil, "", err
			}
			return p, p.UUID, nil
		})
}

func (s *Server) generateParser(w http.ResponseWriter, r *http.Request) {
	s.queueParserJob(w, r, false)
}

func (s *Server) generateAndCompileParser(w http.ResponseWriter, r *http.Request) {
	s.queueParserJob(w, r, true)
}

func (s *Server) queueParserJob(w http.ResponseWriter, r *http.Request, compile bool) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.GetParser(r.Context(), id)
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
	job := s.parsers.GenerateAndCompileJob(p, compile)
	if err := s.store.SetAttempt(r.Context(), "morphologicalparser", "generate_attempt", id, job.Attempt); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	p.GenerateAttempt = job.Attempt
	if err := s.pool.Compile.Enqueue(job); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionParserCompile,
		model.KindMorphologicalParser, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, map[string]interface{}{
		"morphological_parser": p,
		"generate_attempt":     job.Attempt,
	})
}

func (s *Server) applyUpParser(w http.ResponseWriter, r *http.Request) {
	s.applyParser(w, r, true)
}

func (s *Server) applyDownParser(w http.ResponseWriter, r *http.Request) {
	s.applyParser(w, r, false)
}

// applyParser transduces raw inputs through the compiled morphophonology,
// bypassing the language model and the parse cache.
func (s *Server) applyParser(w http.ResponseWriter, r *http.Request, up bool) {
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
	p, err := s.store.GetParser(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var out map[string][]string
	if up {
		out, err = s.parsers.ApplyUp(ctx, p, in.Transcriptions)
	} else {
		out, err = s.parsers.ApplyDown(ctx, p, in.Transcriptions)
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

func (s *Server) parse(w http.ResponseWriter, r *http.Request) {
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
	p, err := s.store.GetParser(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	outcomes, err := s.parsers.Parse(ctx, p, s.delimiters(ctx), in.Transcriptions)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, outcomes)
}

// exportParser streams a zip archive of the parser's on-disk artifacts.
// The archive is buffered first so a mid-export failure can still
// produce a clean error response.
func (s *Server) exportParser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.GetParser(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := s.parsers.Export(p, &buf); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=parser_%d.zip", id))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.WithError(err).WithField("parser_id", id).
			Error("failed to stream parser export")
	}
}

func (s *Server) serveParserBinary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.GetParser(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.serveBinary(w, r, s.parsers.BinaryPath(p), p.CompileSucceeded,
		fmt.Sprintf("Parser %d has not been compiled.", id))
}
