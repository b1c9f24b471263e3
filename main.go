package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "maildash-backend/cmd/api"
	authdomain "maildash-backend/internal/auth/domain"
	authRepo "maildash-backend/internal/auth/repository"
	authUsecase "maildash-backend/internal/auth/usecase"
	"maildash-backend/internal/email/cache"
	emaildomain "maildash-backend/internal/email/domain"
	emailRepo "maildash-backend/internal/email/repository"
	emailUsecase "maildash-backend/internal/email/usecase"
	"maildash-backend/internal/notification"
	"maildash-backend/pkg/config"
	"maildash-backend/pkg/database"
	"maildash-backend/pkg/gmail"
	"maildash-backend/pkg/logger"
	"maildash-backend/pkg/outlook"
	"maildash-backend/pkg/utils/crypto"

	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("application error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.EncryptionKey == "" {
		log.Warn().Msg("ENCRYPTION_KEY not set; cookies are encrypted with an all-zero key")
	}
	cipher := crypto.NewCipher(cfg.EncryptionKey)

	// Durable stores are optional; without a database everything lives in memory.
	var tokenRepository authRepo.TokenRepository
	subscriptionRepo := emailRepo.NewMemorySubscriptionRepository()
	if cfg.DatabaseEnabled() {
		db, err := database.NewPostgresConnection(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, running with in-memory token store")
		} else if err := db.AutoMigrate(&authdomain.TokenRecord{}, &emaildomain.Subscription{}); err != nil {
			log.Warn().Err(err).Msg("failed to migrate database, running with in-memory token store")
		} else {
			tokenRepository = authRepo.NewTokenRepository(db, cipher)
			subscriptionRepo = emailRepo.NewSubscriptionRepository(db)
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
		}
	} else {
		log.Warn().Msg("DB_HOST not configured, running with in-memory token store")
	}

	tokenStore := authRepo.NewTokenStore(tokenRepository)
	tokenStore.StartReconciler(ctx, cfg.ReconcileInterval)

	// Initialize provider services
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI, cfg.BaseURL)
	outlookService := outlook.NewService(outlook.Config{
		ClientID:        cfg.OutlookClientID,
		ClientSecret:    cfg.OutlookClientSecret,
		RedirectURL:     cfg.OutlookRedirectURI,
		TenantID:        cfg.OutlookTenantID,
		NotificationURL: cfg.OutlookWebhookURL,
		ClientState:     cfg.OutlookClientState,
		AttachmentBase:  cfg.BaseURL,
	})

	// Initialize use cases (dependency injection)
	authUsecaseInstance := authUsecase.NewAuthUsecase(tokenStore, cipher, gmailService, outlookService)
	for p, status := range authUsecaseInstance.ConfigStatus() {
		if !status.Configured {
			log.Warn().Str("provider", string(p)).Strs("missing", status.Missing).Msg("provider not configured")
		}
	}

	contents := cache.NewContentCache(cfg.CacheTTL, cfg.ProviderTimeout)
	emailUsecaseInstance := emailUsecase.NewEmailUsecase(
		[]emaildomain.MailProvider{gmailService, outlookService},
		tokenStore,
		authUsecaseInstance,
		contents,
		subscriptionRepo,
		gmailService,
		outlookService,
		emailUsecase.Config{GmailTopic: cfg.GooglePubSubTopic, ProviderTimeout: cfg.ProviderTimeout},
	)

	gmailPush := notification.NewGmailProcessor(emailUsecaseInstance)
	outlookPush := notification.NewOutlookProcessor(emailUsecaseInstance, cfg.OutlookClientState)

	// Pull-mode Gmail notifications (Pub/Sub)
	// Only start if project ID and topic are configured
	if cfg.GoogleProjectID != "" && cfg.GooglePubSubTopic != "" {
		receiver, err := notification.NewReceiver(ctx, cfg.GoogleProjectID, cfg.GooglePubSubTopic, cfg.GoogleCredentials, gmailPush)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize pubsub receiver")
		} else {
			defer receiver.Close()
			go receiver.Start(ctx)
		}
	} else {
		log.Warn().Msg("GOOGLE_PROJECT_ID or GOOGLE_PUBSUB_TOPIC not configured, pubsub receiver disabled")
	}

	var gmailAuth notification.PushVerifier
	if cfg.GooglePushAudience != "" {
		validate, err := notification.NewGoogleValidator(ctx)
		if err != nil {
			return fmt.Errorf("failed to set up push authentication: %w", err)
		}
		gmailAuth = notification.NewOIDCVerifier(cfg.GooglePushAudience, cfg.GooglePushServiceAccount, validate)
	} else {
		log.Warn().Msg("GOOGLE_PUSH_AUDIENCE not configured, gmail push requests are not authenticated")
	}

	handler := api.NewHandler(authUsecaseInstance, emailUsecaseInstance, cipher, gmailPush, outlookPush, gmailAuth, cfg)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", server.Addr).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	// Flush tokens the durable store missed while it was down.
	if pending := tokenStore.Reconcile(shutdownCtx); pending > 0 {
		log.Warn().Int("pending", pending).Msg("tokens not persisted before exit")
	}
	log.Info().Msg("shutdown completed")
	return nil
}
