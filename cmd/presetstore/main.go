package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/presetstore/internal/catalog"
	"github.com/MarkoPoloResearchLab/presetstore/internal/httpserver"
	"github.com/MarkoPoloResearchLab/presetstore/internal/payments"
	"github.com/MarkoPoloResearchLab/presetstore/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagContentBaseURL = "content-base-url"

	configKeyDatabaseURL       = "database_url"
	configKeyListenAddr        = "listen_addr"
	configKeyContentBaseURL    = "content_base_url"
	configKeySessionSigningKey = "session_signing_key"
	configKeySessionIssuer     = "session_issuer"
	configKeySessionCookie     = "session_cookie_name"
	configKeyAllowedOrigins    = "allowed_origins"
	configKeyAdminRole         = "admin_role"
	configKeyPolarSecret       = "polar_webhook_secret"
	configKeyBankAdminSecret   = "bank_admin_secret"
	configKeyTestMode          = "test_mode"

	defaultDatabaseURL = "sqlite:///tmp/presetstore.db"
	defaultListenAddr  = ":8090"
)

type runtimeConfig struct {
	DatabaseURL string
	Server      httpserver.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "presetstored: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "presetstored",
		Short:         "Audio preset marketplace HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagContentBaseURL, "", "Preset content store base URL")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:       "DATABASE_URL",
		configKeyListenAddr:        "LISTEN_ADDR",
		configKeyContentBaseURL:    "CONTENT_BASE_URL",
		configKeySessionSigningKey: "SESSION_SIGNING_KEY",
		configKeySessionIssuer:     "SESSION_ISSUER",
		configKeySessionCookie:     "SESSION_COOKIE_NAME",
		configKeyAllowedOrigins:    "ALLOWED_ORIGINS",
		configKeyAdminRole:         "ADMIN_ROLE",
		configKeyPolarSecret:       "POLAR_WEBHOOK_SECRET",
		configKeyBankAdminSecret:   "BANK_ADMIN_SECRET",
		configKeyTestMode:          "TEST_MODE",
	}
	for key, envName := range envBindings {
		if err := viper.BindEnv(key, envName); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyContentBaseURL: flagContentBaseURL,
	}
	for key, flagName := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Server = httpserver.Config{
		ListenAddr:         viper.GetString(configKeyListenAddr),
		AllowedOrigins:     httpserver.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins)),
		SessionSigningKey:  viper.GetString(configKeySessionSigningKey),
		SessionIssuer:      viper.GetString(configKeySessionIssuer),
		SessionCookieName:  viper.GetString(configKeySessionCookie),
		AdminRole:          viper.GetString(configKeyAdminRole),
		ContentBaseURL:     viper.GetString(configKeyContentBaseURL),
		PolarWebhookSecret: viper.GetString(configKeyPolarSecret),
		BankAdminSecret:    viper.GetString(configKeyBankAdminSecret),
		TestModeEnabled:    viper.GetBool(configKeyTestMode),
	}
	return cfg.Server.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().UnixMilli() }
	service, err := entitlement.NewService(store, clock,
		entitlement.WithOperationLogger(&zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("entitlement service init: %w", err)
	}

	verifier, err := payments.NewVerifier(service, cfg.Server.BankAdminSecret, cfg.Server.TestModeEnabled)
	if err != nil {
		return fmt.Errorf("payment verifier init: %w", err)
	}

	catalogClient, err := catalog.NewClient(cfg.Server.ContentBaseURL, logger)
	if err != nil {
		return fmt.Errorf("catalog client init: %w", err)
	}

	return httpserver.Run(ctx, cfg.Server, service, verifier, catalogClient, logger)
}

// zapOperationLogger emits one structured line per ledger operation.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(_ context.Context, entry entitlement.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("credits", entry.Credits.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Preset != nil {
		fields = append(fields,
			zap.String("category", entry.Preset.Category()),
			zap.String("preset_key", entry.Preset.Key()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "presetstore.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
