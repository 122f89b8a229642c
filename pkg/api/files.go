package api

import (
	"encoding/base64"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
)

// FilesDir is the artifact family file payloads are stored under.
const FilesDir = "files"

func (s *Server) registerFileRoutes() {
	s.router.HandleFunc("/files", s.listFiles).Methods("GET")
	s.router.Handle("/files", write(s.createFile)).Methods("POST")
	s.router.HandleFunc("/files/search", s.searchFiles).Methods("POST")
	s.router.HandleFunc("/files", s.searchFiles).Methods("SEARCH")
	s.router.HandleFunc("/files/{id:[0-9]+}", s.getFile).Methods("GET")
	s.router.Handle("/files/{id:[0-9]+}", write(s.updateFile)).Methods("PUT")
	s.router.Handle("/files/{id:[0-9]+}", write(s.deleteFile)).Methods("DELETE")
	s.router.HandleFunc("/files/{id:[0-9]+}/serve", s.serveFile).Methods("GET")
}

// fileInput covers both upload modes: a base64 payload, or a subinterval
// referencing a parent audio/video file.
type fileInput struct {
	Filename          string   `json:"filename"`
	MIMEType          string   `json:"MIME_type"`
	Description       string   `json:"description"`
	Base64EncodedFile string   `json:"base64_encoded_file"`
	ParentFile        *int     `json:"parent_file"`
	Start             *float64 `json:"start"`
	End               *float64 `json:"end"`
	Tags              []int    `json:"tags"`
}

func (in *fileInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Filename) == "" {
		errs["filename"] = "Please enter a value"
	}
	if strings.ContainsAny(in.Filename, "/\\") {
		errs["filename"] = "The filename may not contain path separators"
	}
	if in.ParentFile != nil {
		if in.Start == nil || in.End == nil {
			errs["start"] = "A subinterval-referencing file requires both start and end"
		} else if *in.Start >= *in.End {
			errs["start"] = "The start value must be less than the end value"
		}
		if in.Base64EncodedFile != "" {
			errs["base64_encoded_file"] = "A subinterval-referencing file cannot carry its own payload"
		}
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (s *Server) filePayloadPath(f *model.File) string {
	return s.layout.Path(FilesDir, f.ID, f.Filename)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	files, total, err := s.store.ListFiles(r.Context(), s.unrestricted(r), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if files == nil {
		files = []model.File{}
	}
	writeListing(w, files, total, p)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	f, err := s.store.GetFile(r.Context(), id, s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, f)
}

func (s *Server) createFile(w http.ResponseWriter, r *http.Request) {
	var in fileInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var payload []byte
	if in.Base64EncodedFile != "" {
		decoded, err := base64.StdEncoding.DecodeString(in.Base64EncodedFile)
		if err != nil {
			httputil.WriteDomainError(w, model.NewValidationError("base64_encoded_file",
				"The uploaded file payload is not valid base64"))
			return
		}
		payload = decoded
	}

	mimeType := in.MIMEType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(in.Filename))
	}
	f := &model.File{
		Filename:    in.Filename,
		MIMEType:    mimeType,
		Size:        int64(len(payload)),
		Description: in.Description,
		ParentFile:  in.ParentFile,
		Start:       in.Start,
		End:         in.End,
		Enterer:     s.currentUser(r),
	}
	for _, id := range in.Tags {
		f.Tags = append(f.Tags, model.Tag{ID: id})
	}

	ctx := r.Context()
	if err := s.store.CreateFile(ctx, f); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if payload != nil {
		if _, err := s.layout.ResourceDir(FilesDir, f.ID); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		if err := os.WriteFile(s.filePayloadPath(f), payload, 0o644); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}
	created, err := s.store.GetFile(ctx, f.ID, true)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate, "file",
		created.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, created)
}

// updateFile changes a file's metadata. The payload itself is immutable;
// replace the file instead.
func (s *Server) updateFile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	current, err := s.store.GetFile(ctx, id, s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	var in fileInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	f := &model.File{
		ID:          current.ID,
		Filename:    current.Filename,
		MIMEType:    current.MIMEType,
		Size:        current.Size,
		Description: in.Description,
		ParentFile:  current.ParentFile,
		Start:       in.Start,
		End:         in.End,
		Enterer:     current.Enterer,
	}
	if f.ParentFile == nil {
		f.Start, f.End = current.Start, current.End
	}
	for _, tagID := range in.Tags {
		f.Tags = append(f.Tags, model.Tag{ID: tagID})
	}
	if err := s.store.UpdateFile(ctx, f); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	updated, err := s.store.GetFile(ctx, f.ID, true)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceUpdate, "file",
		updated.ID, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, updated)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := s.store.GetFile(ctx, id, s.unrestricted(r)); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	deleted, err := s.store.DeleteFile(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if err := s.layout.RemoveResourceDir(FilesDir, id); err != nil {
		s.logger.WithError(err).WithField("file_id", id).
			Error("failed to remove file payload directory")
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceDelete, "file",
		id, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, deleted)
}

// serveFile streams the stored payload. A subinterval-referencing file
// serves its parent's payload.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	f, err := s.store.GetFile(ctx, id, s.unrestricted(r))
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if f.ParentFile != nil {
		parent, err := s.store.GetFile(ctx, *f.ParentFile, s.unrestricted(r))
		if err != nil {
			httputil.WriteDomainError(w, err)
			return
		}
		f = parent
	}
	path := s.filePayloadPath(f)
	if _, err := os.Stat(path); err != nil {
		httputil.WriteDomainError(w, &model.NotFoundError{Kind: "file payload", ID: f.ID})
		return
	}
	if f.MIMEType != "" {
		w.Header().Set("Content-Type", f.MIMEType)
	}
	http.ServeFile(w, r, path)
}

func (s *Server) searchFiles(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	compiled, err := queryc.NewCompiler(s.store.Dialect(), "File").Compile(req.Query)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	limit, offset := req.Paginator.limitOffset()
	files, total, err := s.store.SearchFiles(r.Context(), compiled, s.unrestricted(r), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if files == nil {
		files = []model.File{}
	}
	writeListing(w, files, total, req.Paginator)
}
