//	@title			Folio Media API
//	@version		1.0
//	@description	Image upload sessions and committed media for the portfolio admin CMS.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token with role=admin. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/folio/service/internal/config"
	"github.com/folio/service/internal/db"
	"github.com/folio/service/internal/logging"
	"github.com/folio/service/internal/media"
	appMiddleware "github.com/folio/service/internal/middleware"
	"github.com/folio/service/internal/preview"
	"github.com/folio/service/internal/storage"
	"github.com/folio/service/internal/upload"

	_ "github.com/folio/service/docs/swagger"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	store, err := storage.NewMinioStorage(ctx, storage.MinioOptions{
		Endpoint:   cfg.StorageEndpoint,
		AccessKey:  cfg.StorageAccessKey,
		SecretKey:  cfg.StorageSecretKey,
		Bucket:     cfg.StorageBucket,
		PublicBase: cfg.StoragePublicBase,
		UseSSL:     cfg.StorageUseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("object storage init failed")
	}

	// Wire dependencies: registry → sessions → service → handler
	previews := preview.NewRegistry(cfg.PreviewTTL)
	sessions := media.NewSessions(previews, upload.Config{
		MaxSizeMB:       float64(cfg.UploadMaxSizeMB),
		AcceptedFormats: cfg.UploadAcceptedFormats,
	})
	mediaSvc := media.NewService(sessions, store, media.NewRepository(pool))
	mediaHandler := media.NewHandler(mediaSvc)
	previewHandler := preview.NewHandler(previews)

	go sessions.Run(ctx, cfg.SessionIdleTTL, time.Minute)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Preview handles are unguessable and short-lived; <img> tags cannot send bearer tokens.
	r.Get("/previews/{handle}", previewHandler.Get)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/media", func(r chi.Router) {
			r.Use(appMiddleware.RequireAdmin(cfg.JWTSecret))
			mediaHandler.Routes(r)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server listening")
		log.Info().Msgf("swagger UI at http://localhost:%s/swagger/", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	sessions.CloseAll(shutdownCtx)

	log.Info().Int("previews", previews.Len()).Msg("server stopped")
}
