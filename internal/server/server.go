package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/makemny/apiserver/config"
	"github.com/makemny/apiserver/internal/db"
	"github.com/makemny/apiserver/internal/handlers"
	"github.com/makemny/apiserver/internal/mq"
	"github.com/makemny/apiserver/internal/services"
	"github.com/makemny/apiserver/internal/storage"
	"github.com/makemny/apiserver/internal/store"
	"github.com/makemny/apiserver/internal/store/memory"
	"github.com/makemny/apiserver/internal/store/mongostore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	requestTimeout    = 60 * time.Second
	bootstrapTimeout  = 30 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     zerolog.Logger
	closers    []io.Closer
}

// Repositories groups the persistence backends chosen by STORE_BACKEND.
type Repositories struct {
	Users    services.UserRepository
	Deposits services.DepositRepository
	closers  []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenRepositories connects the configured store backend.
func OpenRepositories(ctx context.Context, cfg config.Config) (Repositories, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres, "":
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return Repositories{}, fmt.Errorf("open postgres: %w", err)
		}
		return Repositories{
			Users:    store.NewUserRepository(conn),
			Deposits: store.NewDepositRepository(conn),
			closers:  []io.Closer{conn},
		}, nil
	case config.StoreMongo:
		database, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return Repositories{}, err
		}
		disconnect := closerFunc(func() error { return database.Client().Disconnect(context.Background()) })
		if err := mongostore.EnsureIndexes(ctx, database); err != nil {
			_ = disconnect()
			return Repositories{}, err
		}
		return Repositories{
			Users:    mongostore.NewUserRepository(database),
			Deposits: mongostore.NewDepositRepository(database),
			closers:  []io.Closer{disconnect},
		}, nil
	case config.StoreMemory:
		return Repositories{
			Users:    memory.NewUserRepository(),
			Deposits: memory.NewDepositRepository(),
		}, nil
	default:
		return Repositories{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Close releases the backend connections.
func (r Repositories) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// New constructs a Server: it connects the store, the optional broker and
// object storage, bootstraps the admin account and registers the routes.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	if cfg.Session.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	repos, err := OpenRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{logger: logger, closers: repos.closers}

	userService := services.NewUserService(repos.Users, logger)
	depositOpts := []services.DepositServiceOption{}

	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	if broker != nil {
		s.closers = append(s.closers, broker)
		depositOpts = append(depositOpts, services.WithEventPublisher(broker, cfg.MQ.Channel))
		logger.Info().Str("backend", cfg.MQ.Backend).Str("channel", cfg.MQ.Channel).Msg("deposit events enabled")
	}

	proofs, err := storage.Open(ctx, cfg.ObjectStorage)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	if proofs != nil {
		s.closers = append(s.closers, proofs)
		depositOpts = append(depositOpts, services.WithProofStorage(proofs))
		logger.Info().Str("backend", cfg.ObjectStorage.Backend).Str("bucket", proofs.Bucket()).Msg("payment proofs enabled")
	}

	depositService := services.NewDepositService(repos.Deposits, logger, depositOpts...)

	if err := bootstrapAdmin(ctx, userService, cfg.Admin, logger); err != nil {
		s.closeResources()
		return nil, err
	}

	authHandler := handlers.NewAuthHandler(userService, cfg.Session)
	depositHandler := handlers.NewDepositHandler(depositService, userService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		hlog.NewHandler(logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(accessLog),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
		handlers.DepositRouter(r, depositHandler, authHandler.RequireAuth)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// bootstrapAdmin ensures the configured admin exists. Both credentials must
// be present for it to run.
func bootstrapAdmin(ctx context.Context, users *services.UserService, cfg config.AdminConfig, logger zerolog.Logger) error {
	if cfg.Phone == "" || cfg.Password == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	admin, err := users.EnsureAdmin(ctx, cfg.Phone, cfg.Password)
	if err != nil {
		return fmt.Errorf("admin bootstrap failed: %w", err)
	}
	logger.Info().Str("user_id", admin.ID).Msg("admin account ready")
	return nil
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, waits for in-flight requests until
// ctx expires and then releases the store, broker and storage clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close resource failed")
		}
	}
	s.closers = nil
}
