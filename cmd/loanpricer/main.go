// Loanpricer - Loan pricing and eligibility for broker portals.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/loanpricer/internal/api"
	"github.com/opensource-finance/loanpricer/internal/bus"
	"github.com/opensource-finance/loanpricer/internal/cache"
	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/engine"
	"github.com/opensource-finance/loanpricer/internal/matrix"
	"github.com/opensource-finance/loanpricer/internal/metrics"
	"github.com/opensource-finance/loanpricer/internal/quote"
	"github.com/opensource-finance/loanpricer/internal/repository"
	"github.com/opensource-finance/loanpricer/internal/store"
	"github.com/opensource-finance/loanpricer/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "loanpricer",
		Short:         "Loan pricing and eligibility engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cfg.Logging))
			return serve(cfg)
		},
	}

	cmd.AddCommand(serve, priceCmd(), matrixCmd(&configPath))

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loanpricer version %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
		},
	})

	return cmd
}

func serve(cfg *domain.Config) error {
	slog.Info("starting loanpricer",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New()

	matrices, err := store.New(repo, cacheImpl, busImpl, cfg.Store, store.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to initialize matrix store: %w", err)
	}
	if err := matrices.Start(ctx); err != nil {
		return err
	}
	defer matrices.Close()

	if list, err := matrices.List(ctx, ""); err != nil {
		slog.Warn("failed to list matrices", "error", err)
	} else if len(list) == 0 {
		slog.Info("no matrices loaded - import with `loanpricer matrix import` or PUT /matrices")
	} else {
		slog.Info("matrices available", "count", len(list))
	}

	quotes := quote.NewService(matrices, repo, busImpl, cfg.Quote, quote.WithMetrics(m))

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, quotes)
		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.TenantIDs,
			WorkerCount: cfg.Worker.WorkerCount,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, cfg.RateLimit, quotes, matrices, cacheImpl, m, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("loanpricer is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("loanpricer shutdown complete")
	return nil
}

func priceCmd() *cobra.Command {
	var matrixPath, inputPath string

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price a loan offline against a matrix file",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(newLogger(domain.LoggingConfig{Level: "warn", Format: "text"}))

			m, err := matrix.LoadFile(matrixPath)
			if err != nil {
				return err
			}
			c, err := matrix.Compile(m)
			if err != nil {
				return err
			}

			var raw []byte
			if inputPath == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(inputPath)
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			var in domain.LoanInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("parse input: %w", err)
			}
			if err := in.Check(); err != nil {
				return err
			}

			return printOutcome(cmd.OutOrStdout(), c, &in)
		},
	}

	cmd.Flags().StringVarP(&matrixPath, "matrix", "m", "", "Matrix document (JSON or YAML)")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "Loan input JSON, - for stdin")
	_ = cmd.MarkFlagRequired("matrix")

	return cmd
}

func printOutcome(w io.Writer, c *matrix.Compiled, in *domain.LoanInput) error {
	out, priceErr := engine.New().Price(c, in)
	if priceErr != nil && !errors.Is(priceErr, engine.ErrNoOptions) {
		return priceErr
	}

	resp := domain.QuoteResponse{
		Success:    len(out.Results) > 0,
		Data:       out.Results,
		Validation: &out.Validation,
		Metadata: &domain.QuoteMetadata{
			LenderCount: 1,
			Variants:    out.Variants,
			Skipped:     len(out.Skipped),
			PricedAt:    time.Now().UTC().Format(time.RFC3339),
		},
	}
	if priceErr != nil {
		resp.Error = engine.NoOptionsMessage
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	return priceErr
}

func matrixCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Manage pricing matrices",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE...",
		Short: "Compile matrix documents and report problems",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(cmd.OutOrStdout(), args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE...",
		Short: "Validate and store matrix documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cfg.Logging))
			return importFiles(cmd.Context(), cmd.OutOrStdout(), cfg, args)
		},
	})

	return cmd
}

func validateFiles(w io.Writer, paths []string) error {
	failed := 0
	for _, path := range paths {
		m, err := matrix.LoadFile(path)
		if err == nil {
			_, err = matrix.Compile(m)
		}
		if err != nil {
			failed++
			var ce *matrix.CompileError
			if errors.As(err, &ce) {
				fmt.Fprintf(w, "%s: invalid\n", path)
				for _, p := range ce.Problems {
					fmt.Fprintf(w, "  - %s\n", p)
				}
				continue
			}
			fmt.Fprintf(w, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(w, "%s: ok (%s/%s)\n", path, m.LenderID, m.ProgramID)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d matrices invalid", failed, len(paths))
	}
	return nil
}

func importFiles(ctx context.Context, w io.Writer, cfg *domain.Config, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()

	matrices, err := store.New(repo, cacheImpl, busImpl, cfg.Store)
	if err != nil {
		return err
	}

	for _, path := range paths {
		m, err := matrix.LoadFile(path)
		if err != nil {
			return err
		}
		if _, err := matrices.Save(ctx, m); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(w, "imported %s/%s from %s\n", m.LenderID, m.ProgramID, path)
	}
	return nil
}
