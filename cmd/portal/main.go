package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/auth"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/config"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/database"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/logging"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/preferences"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/server"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/session"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/upstream"
	"github.com/MarcoPoloResearchLab/advocates-portal/internal/viewers"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal",
		Short: "Advocate and client portal backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().String("upstream-base-url", "", "Marketplace API base URL")
	cmd.PersistentFlags().Duration("upstream-timeout", defaults.GetDuration("upstream.timeout"), "Marketplace API request timeout")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Duration("completion-delay", defaults.GetDuration("interactions.completion_delay"), "Delay before a messaged partner leaves actionable lists")
	cmd.PersistentFlags().Duration("session-idle-timeout", defaults.GetDuration("session.idle_timeout"), "Evict viewer sessions idle for longer than this (0 disables)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "upstream.base_url", "upstream-base-url")
	bindFlag(cmd, "upstream.timeout", "upstream-timeout")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "session.cookie_name", "cookie-name")
	bindFlag(cmd, "interactions.completion_delay", "completion-delay")
	bindFlag(cmd, "session.idle_timeout", "session-idle-timeout")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	viewerService, err := viewers.NewService(viewers.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	preferenceService, err := preferences.NewService(preferences.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	marketplace, err := upstream.NewClient(upstream.ClientConfig{
		BaseURL: appConfig.UpstreamBaseURL,
		Timeout: appConfig.UpstreamTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	sessions, err := session.NewManager(session.ManagerConfig{
		Upstream:         marketplace,
		CompletionDelay:  appConfig.CompletionDelay,
		ReconcileTimeout: appConfig.UpstreamTimeout,
		IdleTimeout:      appConfig.IdleTimeout,
		Logger:           logger,
		OnChange:         realtime.PublishChange,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: validator,
		Viewers:          viewerService,
		Marketplace:      marketplace,
		Sessions:         sessions,
		Preferences:      preferenceService,
		Realtime:         realtime,
		AllowedOrigins:   appConfig.AllowedOrigins,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessions.RunEviction(signalCtx, appConfig.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("upstream", appConfig.UpstreamBaseURL))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
