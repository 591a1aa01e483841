// Package syncserver implements the §4.3 Sync service: the HTTP
// handlers that let replicas push and pull operations for their
// account's Document, plus the account/session endpoints §1 scopes as
// opaque collaborators.
package syncserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/beepshq/beeps/internal/auth"
	"github.com/beepshq/beeps/internal/document/oplog"
	"github.com/beepshq/beeps/internal/hlc"
	"github.com/beepshq/beeps/internal/metrics"
	"github.com/beepshq/beeps/internal/storage"
)

// requestTimeout is the per-request deadline §5 mandates.
const requestTimeout = 30 * time.Second

// Server is the sync service's HTTP handler set.
type Server struct {
	store   *storage.Store
	auth    *auth.Service
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New constructs a Server.
func New(store *storage.Store, authSvc *auth.Service, logger *zap.Logger, m *metrics.Metrics) *Server {
	return &Server{store: store, auth: authSvc, logger: logger, metrics: m}
}

// Router builds the chi router exposing every §6 wire endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(s.logRequest)

	r.Get("/health", s.handleHealth)

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/whoami", s.handleWhoAmI)
		r.Post("/api/push", s.handlePush)
		r.Post("/api/pull", s.handlePull)
	})

	return r
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rec, r)
		s.metrics.RequestLatency.WithLabelValues(r.URL.Path, http.StatusText(rec.Status())).
			Observe(time.Since(start).Seconds())
		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.Status()),
			zap.Duration("latency", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	_, token, err := s.auth.Register(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tokenResponse{Token: token})
	case err == auth.ErrRegistrationDisabled, err == auth.ErrEmailTaken:
		s.logger.Info("registration rejected", zap.String("email", req.Email), zap.Error(err))
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("registration failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.metrics.AuthFailures.Inc()
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type whoamiResponse struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, whoamiResponse{AccountID: acct.ID, Email: acct.Email})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var ops []oplog.Op
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		s.metrics.RecordPushReject("BadRequest")
		writeError(w, http.StatusBadRequest, "malformed operation list")
		return
	}

	docID, err := s.store.EnsureDocument(r.Context(), acct.ID, acct.ID)
	if err != nil {
		s.logger.Error("push: ensuring document", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.store.InsertOps(r.Context(), docID, ops); err != nil {
		s.logger.Error("push: inserting ops", zap.String("account_id", acct.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.metrics.PushOpsTotal.Add(float64(len(ops)))
	s.logger.Info("push accepted", zap.String("account_id", acct.ID), zap.Int("ops", len(ops)))
	w.WriteHeader(http.StatusNoContent)
}

type sincePoint struct {
	Timestamp string `json:"timestamp"`
	Counter   uint64 `json:"counter"`
}

type pullRequest struct {
	Since map[string]sincePoint `json:"since"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req pullRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed since map")
			return
		}
	}

	watermarks, err := decodeSince(req.Since)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	docID, err := s.store.EnsureDocument(r.Context(), acct.ID, acct.ID)
	if err != nil {
		s.logger.Error("pull: ensuring document", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ops, err := s.store.OpsSince(r.Context(), docID, watermarks)
	if err != nil {
		s.logger.Error("pull: querying ops", zap.String("account_id", acct.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.metrics.PullOpsTotal.Add(float64(len(ops)))
	writeJSON(w, http.StatusOK, ops)
}

func decodeSince(since map[string]sincePoint) (map[hlc.NodeID]hlc.Timestamp, error) {
	out := make(map[hlc.NodeID]hlc.Timestamp, len(since))
	for key, point := range since {
		node, err := parseNodeID(key)
		if err != nil {
			return nil, err
		}
		wall, err := parseWall(point.Timestamp)
		if err != nil {
			return nil, err
		}
		out[node] = hlc.Timestamp{Wall: wall, Counter: point.Counter, Node: node}
	}
	return out, nil
}
