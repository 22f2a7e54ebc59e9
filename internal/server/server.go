package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fileshare/apiserver/config"
	"github.com/fileshare/apiserver/internal/codec"
	"github.com/fileshare/apiserver/internal/db"
	"github.com/fileshare/apiserver/internal/handlers"
	"github.com/fileshare/apiserver/internal/mailer"
	"github.com/fileshare/apiserver/internal/mq"
	"github.com/fileshare/apiserver/internal/services"
	"github.com/fileshare/apiserver/internal/storage"
	"github.com/fileshare/apiserver/internal/store"
	"github.com/fileshare/apiserver/internal/store/memory"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	logger     *slog.Logger
}

type repositories struct {
	users         services.UserRepository
	verifications services.VerificationRepository
	files         services.FileRepository
	tokens        services.DownloadTokenRepository
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	tokenCodec, created, err := codec.Load(cfg.Codec.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	if created {
		logger.Warn("generated new encryption key", "path", cfg.Codec.KeyFile)
	}

	blobs, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	s := &Server{logger: logger}

	repos, err := s.openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var publisher mailer.Publisher
	if mailer.NeedsQueue(cfg.Mail) {
		s.queue, err = mq.Open(ctx, cfg.MQ)
		if err != nil {
			s.closeResources()
			return nil, fmt.Errorf("open message queue: %w", err)
		}
		publisher = s.queue
	}

	mail, err := mailer.New(cfg.Mail, publisher, logger)
	if err != nil {
		s.closeResources()
		return nil, err
	}

	userService := services.NewUserService(repos.users, repos.verifications, mail, tokenCodec, cfg.PublicBaseURL, logger)
	fileService := services.NewFileService(repos.files, blobs, logger)
	downloadService := services.NewDownloadService(repos.files, repos.tokens, blobs, tokenCodec, cfg.PublicBaseURL, logger)

	authHandler := handlers.NewAuthHandler(userService, jwtSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, logger)
	fileHandler := handlers.NewFileHandler(userService, fileService, downloadService, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		handlers.Metrics,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/", handlers.Home)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	handlers.AuthRouter(router, authHandler)
	handlers.FileRouter(router, fileHandler, authHandler.RequireAuth)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) openRepositories(ctx context.Context, cfg config.Config) (repositories, error) {
	if strings.EqualFold(cfg.Database.Driver, "memory") {
		s.logger.Warn("using in-memory store; data is lost on restart")
		st := memory.New()
		return repositories{
			users:         st.Users(),
			verifications: st.Verifications(),
			files:         st.Files(),
			tokens:        st.DownloadTokens(),
		}, nil
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return repositories{}, err
	}
	s.db = dbConn
	return repositories{
		users:         store.NewUserRepository(dbConn),
		verifications: store.NewVerificationRepository(dbConn),
		files:         store.NewFileRepository(dbConn),
		tokens:        store.NewDownloadTokenRepository(dbConn),
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and releases the database and queue.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
}
