// File: internal/infra/web/server.go
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/repository"
	"pixelmint/internal/infra/logging"
	"pixelmint/internal/infra/sched"
	"pixelmint/internal/usecase"
)

type ctxKey string

const ctxUser ctxKey = "user"

type Server struct {
	jobUC       usecase.JobUseCase
	ledger      usecase.LedgerUseCase
	users       repository.UserRepository
	sweeper     *sched.Sweeper
	dedupe      WebhookDeduper
	secret      string // provider webhook shared secret
	internalKey string
	webhookURL  string // callback address handed to providers on submit
	server      *http.Server
	log         *zerolog.Logger
}

// WebhookDeduper drops webhook retries before they reach the reconciler.
type WebhookDeduper interface {
	FirstDelivery(ctx context.Context, externalJobID, status string) bool
}

func NewServer(
	jobUC usecase.JobUseCase,
	ledger usecase.LedgerUseCase,
	users repository.UserRepository,
	sweeper *sched.Sweeper,
	dedupe WebhookDeduper,
	webhookSecret, internalKey, publicURL string,
	port int,
	log *zerolog.Logger,
) *Server {
	s := &Server{
		jobUC:       jobUC,
		ledger:      ledger,
		users:       users,
		sweeper:     sweeper,
		dedupe:      dedupe,
		secret:      webhookSecret,
		internalKey: internalKey,
		log:         log,
	}
	if publicURL != "" {
		s.webhookURL = strings.TrimSuffix(publicURL, "/") + "/webhooks/provider"
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/provider", s.handleProviderWebhook)

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.internalAuth)
		r.Post("/sweep", s.handleSweep)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.userAuth)
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Get("/credits", s.handleCredits)
	})

	s.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: r}
	return s
}

// Handler exposes the routed handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// internalAuth guards operator endpoints with the shared internal key.
func (s *Server) internalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalKey == "" || r.Header.Get("X-Internal-Key") != s.internalKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// userAuth resolves the bearer API key to a user.
func (s *Server) userAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := bearerToken(r)
		if key == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := s.users.FindByAPIKey(r.Context(), nil, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		ctx := logging.WithUserID(context.WithValue(r.Context(), ctxUser, user), user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) *model.User {
	u, _ := r.Context().Value(ctxUser).(*model.User)
	return u
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidState):
		http.Error(w, "Job already finished", http.StatusConflict)
	case errors.Is(err, domain.ErrInsufficientCredits):
		http.Error(w, "Insufficient credits", http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, "Invalid request", http.StatusBadRequest)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
