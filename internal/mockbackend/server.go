// Package mockbackend is a self-contained shortcut service speaking the
// backend REST API. It backs local runs and end-to-end tests.
package mockbackend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"pkt.systems/pslog"
	"pkt.systems/snipline/httpapi"
	"pkt.systems/snipline/internal/auth"
	"pkt.systems/snipline/internal/backend"
	"pkt.systems/snipline/internal/supervisor"
	"pkt.systems/snipline/internal/templating"
	"pkt.systems/snipline/schema"
)

const maxBodyBytes = 1 << 20

// Users authenticates accounts.
type Users interface {
	Authenticate(username, password string) (auth.User, error)
	Lookup(id string) (auth.User, error)
}

// Options configures a Server.
type Options struct {
	Users  Users
	Seed   Seed
	Issuer *Issuer
	Logger pslog.Logger
	Now    func() time.Time
}

// Server holds the catalogue in memory. Use counters are not written back
// to the seed file.
type Server struct {
	users  Users
	issuer *Issuer
	log    pslog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	shortcuts  []schema.Shortcut
	categories []schema.Category
}

type userKey struct{}

// New returns a Server over opts.
func New(opts Options) (*Server, error) {
	if opts.Users == nil {
		return nil, errors.New("mock backend user store is required")
	}
	if err := opts.Seed.Validate(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	issuer := opts.Issuer
	if issuer == nil {
		var err error
		if issuer, err = NewIssuer("", 0, now); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	categories := append([]schema.Category{}, opts.Seed.Categories...)
	return &Server{
		users:      opts.Users,
		issuer:     issuer,
		log:        logger.With("component", "mockbackend"),
		now:        now,
		shortcuts:  schema.CloneShortcuts(opts.Seed.Shortcuts),
		categories: categories,
	}, nil
}

// Handler returns the REST router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Post("/api/auth/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/api/me", s.handleMe)
		r.Get("/api/shortcuts", s.handleShortcuts)
		r.Get("/api/shortcuts/by-trigger", s.handleFindByTrigger)
		r.Get("/api/shortcuts/search", s.handleSearch)
		r.Post("/api/shortcuts/{id}/use", s.handleUse)
		r.Post("/api/shortcuts/{id}/expand", s.handleExpand)
		r.Get("/api/categories", s.handleCategories)
	})
	return r
}

// ListenAndServe serves the backend on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return httpapi.ListenAndServe(ctx, addr, s.Handler())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req backend.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		s.log.Info("mockbackend login rejected", "user", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.issuer.Issue(user.ID, user.Username)
	if err != nil {
		s.log.Warn("mockbackend token issue failed", "err", err)
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	s.log.Info("mockbackend login", "user", user.Username)
	writeJSON(w, http.StatusOK, backend.LoginResponse{Token: token, User: user.Profile()})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.issuer.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		user, err := s.users.Lookup(id)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func requestUser(r *http.Request) auth.User {
	user, _ := r.Context().Value(userKey{}).(auth.User)
	return user
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, requestUser(r).Profile())
}

func (s *Server) handleShortcuts(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	list := schema.CloneShortcuts(s.shortcuts)
	s.mu.RUnlock()
	if list == nil {
		list = []schema.Shortcut{}
	}
	writeJSON(w, http.StatusOK, backend.ShortcutsResponse{Shortcuts: list})
}

func (s *Server) handleFindByTrigger(w http.ResponseWriter, r *http.Request) {
	trigger := r.URL.Query().Get("trigger")
	if strings.TrimSpace(trigger) == "" {
		writeError(w, http.StatusBadRequest, "trigger is required")
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.shortcuts {
		if sc.Trigger == trigger {
			writeJSON(w, http.StatusOK, backend.ShortcutResponse{Shortcut: sc.Clone()})
			return
		}
	}
	writeError(w, http.StatusNotFound, "shortcut not found")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	s.mu.RLock()
	results := supervisor.SearchCache(s.shortcuts, query, schema.DefaultSentinel)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, backend.SearchResponse{Results: results})
}

func (s *Server) handleUse(w http.ResponseWriter, r *http.Request) {
	var req backend.UseRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	id := schema.ShortcutID(chi.URLParam(r, "id"))
	now := s.now().UTC()
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "shortcut not found")
		return
	}
	s.shortcuts[idx].UseCount++
	s.shortcuts[idx].LastUsed = &now
	sc := s.shortcuts[idx].Clone()
	s.mu.Unlock()

	var resp backend.UseResponse
	if len(req.Variables) > 0 {
		text, err := s.render(sc, sc.Content, req.Variables, requestUser(r))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		resp.ExpandedContent = &text
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	var req backend.ExpandRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	id := schema.ShortcutID(chi.URLParam(r, "id"))
	s.mu.RLock()
	idx := s.indexLocked(id)
	var sc schema.Shortcut
	if idx >= 0 {
		sc = s.shortcuts[idx].Clone()
	}
	s.mu.RUnlock()
	if idx < 0 {
		writeError(w, http.StatusNotFound, "shortcut not found")
		return
	}
	content := req.Content
	if content == "" {
		content = sc.Content
	}
	text, err := s.render(sc, content, req.Variables, requestUser(r))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, backend.ExpandResponse{ExpandedContent: text})
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	list := append([]schema.Category{}, s.categories...)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, backend.CategoriesResponse{Categories: list})
}

func (s *Server) render(sc schema.Shortcut, content string, values map[string]string, user auth.User) (string, error) {
	for name, value := range values {
		if err := templating.ValidateValue(value); err != nil {
			return "", errors.New("invalid value for " + name)
		}
	}
	profile := user.Profile()
	return templating.Substitute(content, sc.Variables, values, templating.Builtins(s.now(), &profile)), nil
}

func (s *Server) indexLocked(id schema.ShortcutID) int {
	for i, sc := range s.shortcuts {
		if sc.ID == id {
			return i
		}
	}
	return -1
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func decodeOptionalBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, backend.ErrorResponse{Error: message})
}
