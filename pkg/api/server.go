package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/collection"
	"github.com/dativebase/old/pkg/corpus"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/langmodel"
	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/middleware"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/morphology"
	"github.com/dativebase/old/pkg/parser"
	"github.com/dativebase/old/pkg/phonology"
	"github.com/dativebase/old/pkg/storage"
	"github.com/dativebase/old/pkg/toolkit"
	"github.com/dativebase/old/pkg/worker"
)

// Options configures a Server. Store, Layout, Pool and Keys are required;
// everything else has a sensible zero value.
type Options struct {
	Store      *storage.Store
	Layout     *layout.Layout
	Pool       *worker.Pool
	Keys       *auth.KeyManager
	ParseCache *parser.Cache
	Logger     *logrus.Logger
	ReadOnly   bool

	// RateLimit, when set, is installed on the router after authentication
	// so authenticated requests are limited per user.
	RateLimit func(http.Handler) http.Handler
}

// Server is the HTTP front of the database: resource CRUD with
// backup-on-mutate history, search, and the grammar compilation endpoints.
type Server struct {
	store  *storage.Store
	layout *layout.Layout
	pool   *worker.Pool
	logger *logrus.Logger
	audit  *auth.AuditLogger
	keys   *auth.KeyManager

	foma   *toolkit.Foma
	mitlm  *toolkit.MITLM
	tgrep2 *toolkit.TGrep2

	phonologies  *phonology.Engine
	morphologies *morphology.Engine
	langmodels   *langmodel.Engine
	parsers      *parser.Engine
	corpora      *corpus.Engine
	collections  *collection.Engine

	router *mux.Router
}

// NewServer builds the engines, installs the middleware chain and registers
// every route.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	runner := toolkit.NewRunner(logger)
	foma := toolkit.NewFoma(runner)
	mitlm := toolkit.NewMITLM(runner)
	tgrep2 := toolkit.NewTGrep2(runner)

	morph := morphology.NewEngine(opts.Store, opts.Layout, foma, logger)
	lm := langmodel.NewEngine(opts.Store, opts.Layout, mitlm, logger)

	s := &Server{
		store:        opts.Store,
		layout:       opts.Layout,
		pool:         opts.Pool,
		logger:       logger,
		audit:        auth.NewAuditLogger(logger),
		keys:         opts.Keys,
		foma:         foma,
		mitlm:        mitlm,
		tgrep2:       tgrep2,
		phonologies:  phonology.NewEngine(opts.Store, opts.Layout, foma, logger),
		morphologies: morph,
		langmodels:   lm,
		parsers:      parser.NewEngine(opts.Store, opts.Layout, foma, morph, lm, opts.ParseCache, logger),
		corpora:      corpus.NewEngine(opts.Store, opts.Layout, tgrep2, logger),
		collections:  collection.NewEngine(opts.Store, logger),
		router:       mux.NewRouter(),
	}

	s.router.Use(httputil.RequestIDMiddleware, httputil.RecoveryMiddleware)
	if opts.Keys != nil {
		s.router.Use(middleware.NewAuthMiddleware(opts.Keys, true).Handler)
	}
	if opts.RateLimit != nil {
		s.router.Use(opts.RateLimit)
	}
	s.router.Use(middleware.ReadOnlyMiddleware(opts.ReadOnly))

	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can mount extra routes.
func (s *Server) Router() *mux.Router { return s.router }

// ParserEngine exposes the parser engine for binary watching at startup.
func (s *Server) ParserEngine() *parser.Engine { return s.parsers }

func (s *Server) setupRoutes() {
	s.registerFormRoutes()
	s.registerFileRoutes()
	s.registerTagRoutes()
	s.registerCategoryRoutes()
	s.registerFormSearchRoutes()
	s.registerUserRoutes()
	s.registerSettingsRoutes()
	s.registerCollectionRoutes()
	s.registerCorpusRoutes()
	s.registerPhonologyRoutes()
	s.registerMorphologyRoutes()
	s.registerLanguageModelRoutes()
	s.registerParserRoutes()
}

// write wraps a mutating handler with the writer-role check.
func write(h http.HandlerFunc) http.Handler {
	return middleware.RequireWriter(h)
}

// admin wraps a handler with the administrator-role check.
func admin(h http.HandlerFunc) http.Handler {
	return middleware.RequireAdministrator(h)
}

func (s *Server) viewer(r *http.Request) *auth.AuthContext {
	return middleware.GetAuthContext(r)
}

// unrestricted reports whether the requester may see restricted resources.
func (s *Server) unrestricted(r *http.Request) bool {
	ac := middleware.GetAuthContext(r)
	return ac != nil && ac.Unrestricted
}

func (s *Server) currentUser(r *http.Request) *model.UserRef {
	if ac := middleware.GetAuthContext(r); ac != nil {
		return ac.User
	}
	return nil
}

// delimiters returns the instance's morpheme delimiter inventory.
func (s *Server) delimiters(ctx context.Context) []string {
	as, err := s.store.ApplicationSettings(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("falling back to default morpheme delimiters")
		return model.DefaultMorphemeDelimiters
	}
	return as.Delimiters()
}
