// Package server exposes the transaction cache over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
	"github.com/colthorp/txcache/internal/cache"
	"github.com/colthorp/txcache/internal/core"
	"github.com/colthorp/txcache/internal/output"
	"github.com/pkg/errors"
)

// UserHeader carries the caller's user id.
const UserHeader = "User-Id"

// Cache is the part of *cache.Manager the server needs.
type Cache interface {
	Resolve(ctx context.Context, userID string, start, end civil.Date) (*cache.RecordSet, error)
	Accounts(ctx context.Context, userID string) ([]api.Account, error)
	Link(ctx context.Context, userID, publicToken string) (*api.ExchangeResult, error)
	Connected(ctx context.Context, userID string) (bool, error)
}

// LinkTokenCreator issues Link tokens. *api.PlaidAPI implements it.
type LinkTokenCreator interface {
	CreateLinkToken(ctx context.Context, userID string) (*api.LinkToken, error)
}

// Options configures a Server.
type Options struct {
	Location  *time.Location
	StaticDir string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server exposes HTTP endpoints for linking items and reading cached data.
type Server struct {
	cache     Cache
	links     LinkTokenCreator
	loc       *time.Location
	staticDir string
	logger    *slog.Logger
	now       func() time.Time
}

// NewServer constructs a new Server.
func NewServer(c Cache, links LinkTokenCreator, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StaticDir == "" {
		opts.StaticDir = core.DefaultStaticDir
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		cache:     c,
		links:     links,
		loc:       opts.Location,
		staticDir: opts.StaticDir,
		logger:    opts.Logger.With("component", "server"),
		now:       opts.Now,
	}
}

// Register wires the server endpoints onto the provided mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleStatic("index.html"))
	mux.HandleFunc("GET /oauth", s.handleStatic("oauth.html"))
	mux.HandleFunc("GET /api/create_link_token", s.handleCreateLinkToken)
	mux.HandleFunc("POST /api/exchange_public_token", s.handleExchangePublicToken)
	mux.HandleFunc("GET /api/is_account_connected", s.handleIsAccountConnected)
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	mux.HandleFunc("GET /api/transactions", s.handleTransactions)
}

// Handler returns the full handler chain: CORS, request ids and access logs
// around the registered routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return withCORS(s.withRequestLog(mux))
}

func (s *Server) handleStatic(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(s.staticDir, name))
	}
}

func (s *Server) handleCreateLinkToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.links.CreateLinkToken(r.Context(), r.Header.Get(UserHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

type exchangeRequest struct {
	PublicToken string `json:"public_token"`
	UserID      string `json:"user_id"`
}

func (s *Server) handleExchangePublicToken(w http.ResponseWriter, r *http.Request) {
	var payload exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, r, errors.Wrapf(cache.ErrInvalidRequest, "invalid body: %v", err))
		return
	}

	userID := r.Header.Get(UserHeader)
	if userID == "" {
		userID = payload.UserID
	}

	if _, err := s.cache.Link(r.Context(), userID, payload.PublicToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handleIsAccountConnected(w http.ResponseWriter, r *http.Request) {
	ok, err := s.cache.Connected(r.Context(), r.Header.Get(UserHeader))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": ok})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.cache.Accounts(r.Context(), r.Header.Get(UserHeader))
	if errors.Is(err, cache.ErrNoCredentials) {
		writeJSON(w, http.StatusOK, []output.AccountView{})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, output.AccountViews(accounts))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := civil.DateOf(s.now().In(s.loc))

	start, end, err := core.ResolveWindow(q.Get("startDate"), q.Get("endDate"), today)
	if err != nil {
		s.writeError(w, r, errors.Wrapf(cache.ErrInvalidWindow, "%v", err))
		return
	}

	rs, err := s.cache.Resolve(r.Context(), r.Header.Get(UserHeader), start, end)
	if errors.Is(err, cache.ErrNoCredentials) {
		writeJSON(w, http.StatusOK, []output.TransactionView{})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	txns := output.FilterTransactions(rs.Transactions, output.Filter{
		AccountID: q.Get("accountId"),
		Category:  q.Get("category"),
		Start:     start,
		End:       end,
	})
	writeJSON(w, http.StatusOK, output.TransactionViews(txns))
}

type errorBody struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// writeError maps err to a status and a generic body. Details only go to the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := http.StatusInternalServerError, errorBody{
		ErrorCode:    "OTHER_ERROR",
		ErrorMessage: "I got some other message on the server.",
	}
	if errors.Is(err, cache.ErrInvalidRequest) || errors.Is(err, cache.ErrInvalidWindow) {
		status, body = http.StatusBadRequest, errorBody{
			ErrorCode:    "INVALID_REQUEST",
			ErrorMessage: "The request is missing a user id or has an invalid date range.",
		}
	}

	requestLogger(r.Context(), s.logger).Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"kind", cache.ErrorKind(err),
		"error", err)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
