package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/captcha"
	"github.com/kwartzlab/forms-service/internal/config"
	"github.com/kwartzlab/forms-service/internal/journal"
	"github.com/kwartzlab/forms-service/internal/ledger"
	"github.com/kwartzlab/forms-service/internal/models"
	"github.com/kwartzlab/forms-service/internal/notify"
	"github.com/kwartzlab/forms-service/internal/orchestrator"
	"github.com/kwartzlab/forms-service/internal/server"
	"github.com/kwartzlab/forms-service/internal/storage"
	"github.com/kwartzlab/forms-service/pkg/database"
	"github.com/kwartzlab/forms-service/pkg/utils"
)

func main() {
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting forms service",
		zap.Int("port", cfg.Server.Port))

	// Ledger over the shared workbooks.
	sheet := ledger.NewXLSXSheet(map[models.FormKind]ledger.WorkbookConfig{
		models.ReimbursementRequest: {Path: cfg.Ledger.ReimbursementPath, SheetName: cfg.Ledger.ReimbursementSheet},
		models.PurchaseApproval:     {Path: cfg.Ledger.PurchasePath, SheetName: cfg.Ledger.PurchaseSheet},
	}, logger)
	allocator := ledger.NewAllocator(sheet, logger)
	writer := ledger.NewWriter(sheet, logger)

	// Remote file store.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.NewMinioStore(startupCtx, storage.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		LinkBase:  cfg.Storage.LinkBase,
	}, logger)
	cancelStartup()
	if err != nil {
		logger.Fatal("Failed to connect to object store", zap.Error(err))
	}
	assets := storage.NewAssetManager(store, map[models.FormKind]string{
		models.ReimbursementRequest: cfg.Storage.ReimbursementFolder,
		models.PurchaseApproval:     cfg.Storage.PurchaseFolder,
	}, logger)

	// Local attempt journal.
	db, err := database.New(database.Config{
		Path:            cfg.Journal.Path,
		MaxOpenConns:    cfg.Journal.MaxOpenConns,
		MaxIdleConns:    cfg.Journal.MaxIdleConns,
		ConnMaxLifetime: cfg.Journal.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open journal database", zap.Error(err))
	}
	defer db.Close()
	if err := database.NewMigrator(db, logger).Run(journal.Migrations); err != nil {
		logger.Fatal("Failed to run journal migrations", zap.Error(err))
	}
	journalStore := journal.NewStore(db, logger)

	// Notification channels.
	var chat notify.ChatSender
	if cfg.Notify.LarkAppID != "" {
		chat = notify.NewChatChannel(notify.LarkConfig{
			AppID:     cfg.Notify.LarkAppID,
			AppSecret: cfg.Notify.LarkAppSecret,
			ChatID:    cfg.Notify.LarkChatID,
		}, logger)
	}
	var mail notify.MailSender
	if cfg.Notify.SMTPUsername != "" {
		mail = notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUsername,
			Password: cfg.Notify.SMTPPassword,
			From:     cfg.Notify.EmailFrom,
			Recipients: map[models.FormKind]string{
				models.ReimbursementRequest: cfg.Notify.ReimbursementRecipient,
				models.PurchaseApproval:     cfg.Notify.PurchaseRecipient,
			},
		}, logger)
	}
	dispatcher := notify.NewDispatcher(chat, mail, logger)

	orch := orchestrator.New(allocator, assets, writer, dispatcher, journalStore,
		orchestrator.Config{
			MaxAttempts: cfg.Orchestrator.MaxAttempts,
			BaseDelay:   cfg.Orchestrator.BaseDelay,
			MaxDelay:    cfg.Orchestrator.MaxDelay,
		}, logger)

	verifier := captcha.NewVerifier(captcha.Config{
		Secret:    cfg.Captcha.Secret,
		VerifyURL: cfg.Captcha.VerifyURL,
		Timeout:   cfg.Captcha.Timeout,
	}, logger)

	handlers := server.NewHandlers(orch, verifier, journalStore, logger)
	router := server.NewRouter(handlers, server.Options{
		SubmitRatePerHour: cfg.Server.SubmitRatePerHour,
		Debug:             cfg.Logger.Level == "debug",
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
