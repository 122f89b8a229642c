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
	"github.com/dativebase/old/pkg/phonology"
)

func (s *Server) registerPhonologyRoutes() {
	s.router.HandleFunc("/phonologies", s.listPhonologies).Methods("GET")
	s.router.Handle("/phonologies", write(s.createPhonology)).Methods("POST")
	s.router.HandleFunc("/phonologies/{id:[0-9]+}", s.getPhonology).Methods("GET")
	s.router.Handle("/phonologies/{id:[0-9]+}", write(s.updatePhonology)).Methods("PUT")
	s.router.Handle("/phonologies/{id:[0-9]+}", write(s.deletePhonology)).Methods("DELETE")
	s.router.HandleFunc("/phonologies/{id}/history", s.phonologyHistory).Methods("GET")

	s.router.Handle("/phonologies/{id:[0-9]+}/compile", write(s.compilePhonology)).Methods("PUT")
	s.router.Handle("/phonologies/{id:[0-9]+}/applydown", write(s.applyDownPhonology)).Methods("PUT")
	s.router.HandleFunc("/phonologies/{id:[0-9]+}/runtests", s.runPhonologyTests).Methods("GET")
	s.router.HandleFunc("/phonologies/{id:[0-9]+}/servecompiled", s.servePhonologyBinary).Methods("GET")
}

type phonologyInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Script      string `json:"script"`
}

func (in *phonologyInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Name) == "" {
		errs["name"] = "Please enter a value"
	}
	if !strings.Contains(in.Script, "define "+phonology.RegexName) {
		errs["script"] = fmt.Sprintf(
			"The script must define a regex called %s", phonology.RegexName)
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

// applyInput is the body of every transduction endpoint.
type applyInput struct {
	Transcriptions []string `json:"transcriptions"`
}

func (in *applyInput) validate() error {
	if len(in.Transcriptions) == 0 {
		return model.NewValidationError("transcriptions",
			"Please enter one or more transcriptions")
	}
	return nil
}

func (s *Server) listPhonologies(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	phons, total, err := s.store.ListPhonologies(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if phons == nil {
		phons = []model.Phonology{}
	}
	writeListing(w, phons, total, p)
}

func (s *Server) getPhonology(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.GetPhonology(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

func (s *Server) createPhonology(w http.ResponseWriter, r *http.Request) {
	var in phonologyInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	user := s.currentUser(r)
	p := &model.Phonology{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Script:      in.Script,
		Enterer:     user,
		Modifier:    user,
	}
	if err := s.store.CreatePhonology(r.Context(), p); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate,
		model.KindPhonology, p.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, p)
}

func (s *Server) updatePhonology(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetPhonology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in phonologyInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	p := &model.Phonology{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Script:      in.Script,
		Enterer:     current.Enterer,
		Modifier:    s.currentUser(r),
	}
	if err := s.store.UpdatePhonology(ctx, p); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	updated, err := s.store.GetPhonology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate,
		model.KindPhonology, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, updated)
}

func (s *Server) deletePhonology(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	deleted, err := s.store.DeletePhonology(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.layout.RemoveResourceDir(layout.PhonologyDir, id); err != nil {
		s.logger.WithError(err).WithField("phonology_id", id).
			Error("failed to remove phonology artifacts")
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete,
		model.KindPhonology, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

func (s *Server) phonologyHistory(w http.ResponseWriter, r *http.Request) {
	s.resourceHistory(w, r, model.KindPhonology, "phonology",
		func(ctx context.Context, id int) (interface{}, string, error) {
			p, err := s.store.GetPhonology(ctx, id)
			if err != nil {
				return nil, "", err
			}
			return p, p.UUID, nil
		})
}

// compilePhonology queues a foma compile. The result lands on the resource
// under a fresh attempt nonce; poll the resource to observe completion.
func (s *Server) compilePhonology(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	p, err := s.store.GetPhonology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.foma.Installed(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	job := s.phonologies.CompileJob(p)
	// The nonce lands on the row before the job is accepted, so pollers
	// never race the worker.
	if err := s.store.SetAttempt(ctx, "phonology", "compile_attempt", id, job.Attempt); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	p.CompileAttempt = job.Attempt
	if err := s.pool.Compile.Enqueue(job); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionParserCompile,
		model.KindPhonology, id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, map[string]interface{}{
		"phonology":       p,
		"compile_attempt": job.Attempt,
	})
}

func (s *Server) applyDownPhonology(w http.ResponseWriter, r *http.Request) {
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
	p, err := s.store.GetPhonology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	out, err := s.phonologies.ApplyDown(ctx, p, in.Transcriptions)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

func (s *Server) runPhonologyTests(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	p, err := s.store.GetPhonology(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	results, err := s.phonologies.RunTests(ctx, p)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, results)
}

func (s *Server) servePhonologyBinary(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	p, err := s.store.GetPhonology(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.serveBinary(w, r, s.phonologies.BinaryPath(p), p.CompileSucceeded,
		fmt.Sprintf("Phonology %d has not been compiled.", id))
}

// serveBinary streams a compiled FST, refusing until a compile has
// succeeded and its artifact exists on disk.
func (s *Server) serveBinary(w http.ResponseWriter, r *http.Request, path string, compiled bool, message string) {
	if !compiled {
		httputil.WriteDomainError(w, model.NewValidationError("compile", message))
		return
	}
	if _, err := os.Stat(path); err != nil {
		httputil.WriteDomainError(w, model.NewValidationError("compile", message))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}
