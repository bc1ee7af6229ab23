package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"practice-portal/auth/internal/config"
	"practice-portal/auth/internal/db/migrate"
	"practice-portal/auth/internal/httpapi"
	"practice-portal/auth/internal/platform/logging"
	rbacservice "practice-portal/auth/internal/rbac/service"
	"practice-portal/auth/internal/security"
	"practice-portal/auth/internal/server"
	"practice-portal/auth/internal/sweeper"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:          "auth-server",
		Short:        "Practice portal authentication service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("config: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel, cfg.Env, cfg.OTELServiceName), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.close(context.Background())

	if cfg.DatabaseURL == "" {
		if err := a.resolver.EnsureCatalog(ctx, rbacservice.PracticeCatalog); err != nil {
			return fmt.Errorf("seed roles: %w", err)
		}
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if interval := cfg.SweepIntervalDuration(); interval > 0 {
		go sweeper.New(a.tokens, a.sessions, a.tx, a.metrics, logger).Run(runCtx, interval)
	}

	e := httpapi.New(httpapi.Deps{
		Auth:     a.auth,
		Roles:    a.resolver,
		Health:   a.health,
		Outbox:   a.outbox,
		Registry: a.registry,
		RateLimit: httpapi.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
		Log: logger,
	})
	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	deps := server.Deps{
		Health:   a.health,
		Tokens:   a.tokens,
		Sessions: a.sessionValidator(),
		Grants:   a.resolver,
		Log:      logger,
	}
	g := server.NewGRPCServer(deps)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("starting gRPC server")
			if err := g.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-runCtx.Done():
		logger.Info().Msg("shutting down")
	case err = <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		logger.Warn().Err(serr).Msg("HTTP shutdown")
	}
	g.GracefulStop()
	logger.Info().Msg("server stopped")
	return err
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "End expired sessions and purge spent one-time tokens once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			res, err := sweeper.New(a.tokens, a.sessions, a.tx, a.metrics, logger).RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sessions expired: %d\ntokens purged: %d\n", res.SessionsExpired, res.TokensPurged)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, _ := cmd.Flags().GetString("direction")
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			err = migrate.Run(cfg.DatabaseURL, direction)
			if errors.Is(err, migrate.ErrNoChange) {
				logger.Info().Str("direction", direction).Msg("migrations: no change")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info().Str("direction", direction).Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().String("direction", migrate.Up, "Migration direction: up or down")
	return cmd
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a random JWT_SIGNING_KEY value",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("bytes")
			if n < security.MinSigningKeyLen {
				return fmt.Errorf("keygen: at least %d bytes required", security.MinSigningKeyLen)
			}
			b := make([]byte, n)
			if _, err := rand.Read(b); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "base64:"+base64.StdEncoding.EncodeToString(b))
			return nil
		},
	}
	cmd.Flags().Int("bytes", 48, "Key length in bytes")
	return cmd
}
