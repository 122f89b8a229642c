package api

import (
	"net/http"
	"strings"

	"github.com/dativebase/old/pkg/auth"
	"github.com/dativebase/old/pkg/httputil"
	"github.com/dativebase/old/pkg/model"
)

func (s *Server) registerUserRoutes() {
	s.router.HandleFunc("/users", s.listUsers).Methods("GET")
	s.router.Handle("/users", admin(s.createUser)).Methods("POST")
	s.router.HandleFunc("/users/{id:[0-9]+}", s.getUser).Methods("GET")
	s.router.HandleFunc("/users/{id:[0-9]+}/apikey", s.issueAPIKey).Methods("POST")
	s.router.HandleFunc("/users/{id:[0-9]+}/apikey", s.revokeAPIKey).Methods("DELETE")
}

type userInput struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func (in *userInput) validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(in.Username) == "" {
		errs["username"] = "Please enter a value"
	}
	switch in.Role {
	case model.RoleAdministrator, model.RoleContributor, model.RoleViewer:
	default:
		errs["role"] = in.Role + " is not a valid user role"
	}
	if len(errs) > 0 {
		return &model.ValidationError{Errors: errs}
	}
	return nil
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	p := paginatorFromRequest(r)
	limit, offset := p.limitOffset()
	users, total, err := s.store.ListUsers(r.Context(), limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if users == nil {
		users = []model.UserRef{}
	}
	writeListing(w, users, total, p)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	u, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, u)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var in userInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	ctx := r.Context()
	username := strings.TrimSpace(in.Username)
	existing, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if existing != nil {
		httputil.WriteDomainError(w, model.NewValidationError("username",
			"The username "+username+" is already taken"))
		return
	}
	u := &model.UserRef{FirstName: in.FirstName, LastName: in.LastName, Role: in.Role}
	if err := s.store.CreateUser(ctx, username, u); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, s.viewer(r), auth.ActionResourceCreate, "user",
		u.ID, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, u)
}

func (s *Server) keyManager() *auth.KeyManager {
	if s.keys != nil {
		return s.keys
	}
	return auth.NewKeyManager(s.store, s.logger)
}

// canManageKey allows administrators to manage any key and users their own.
func canManageKey(ac *auth.AuthContext, userID int) error {
	if ac == nil || ac.User == nil {
		return model.ErrUnauthenticated
	}
	if ac.IsAdministrator() || ac.User.ID == userID {
		return nil
	}
	return &model.UnauthorizedError{Kind: "user", ID: userID}
}

// issueAPIKey mints a fresh key for the user, replacing any previous one.
// The plaintext key appears in this response and nowhere else.
func (s *Server) issueAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ac := s.viewer(r)
	if err := canManageKey(ac, id); err != nil {
		s.audit.LogFromRequest(r, ac, auth.ActionKeyIssue, "user", id, auth.StatusDenied, err)
		httputil.WriteDomainError(w, err)
		return
	}
	ctx := r.Context()
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	key, err := s.keyManager().IssueKey(ctx, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, ac, auth.ActionKeyIssue, "user", id, auth.StatusSuccess, nil)
	httputil.WriteCreated(w, map[string]interface{}{
		"api_key": key,
		"user":    u,
	})
}

func (s *Server) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathIntOrError(w, r, "id")
	if !ok {
		return
	}
	ac := s.viewer(r)
	if err := canManageKey(ac, id); err != nil {
		s.audit.LogFromRequest(r, ac, auth.ActionKeyRevoke, "user", id, auth.StatusDenied, err)
		httputil.WriteDomainError(w, err)
		return
	}
	ctx := r.Context()
	if err := s.keyManager().RevokeKey(ctx, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	s.audit.LogFromRequest(r, ac, auth.ActionKeyRevoke, "user", id, auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}
