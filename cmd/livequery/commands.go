package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coffersTech/livequery/internal/engine"
	"github.com/coffersTech/livequery/internal/pkg/lql"
	"github.com/coffersTech/livequery/internal/server"
	"github.com/coffersTech/livequery/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	statsInterval   = time.Second
	shutdownTimeout = 5 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load objects and logs and serve queries over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer e.close()

			srv := server.New(e.catalog, server.Config{
				Keys:         cfg.Auth.Keys,
				AuthRequired: cfg.Auth.Required,
				QueryTimeout: cfg.QueryTimeout,
				Logger:       log,
			})

			g, gctx := errgroup.WithContext(ctx)
			e.window.StartStatsTicker(gctx, statsInterval)
			g.Go(func() error {
				return srv.Start(cfg.Listen)
			})
			if cfg.Window.Retention > 0 {
				g.Go(func() error {
					e.window.RunEvictor(gctx, cfg.Window.EvictInterval)
					return nil
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("server forced to shutdown", zap.Error(err))
				}

				if cfg.Window.FlushOnExit {
					n, err := e.window.Flush()
					if err != nil {
						return fmt.Errorf("final flush: %w", err)
					}
					log.Info("final flush done", zap.Int("entries", n))
				}
				return nil
			})
			return g.Wait()
		},
	}
}

func newQueryCmd(configPath *string) *cobra.Command {
	var histColumn string
	var histInterval time.Duration

	cmd := &cobra.Command{
		Use:   "query [file]",
		Short: "Run one LQL request against local data and print the result as JSON",
		Long: `Reads an LQL request from file, or from stdin when no file is given,
executes it against the configured objects file, archives and live log,
and prints the result. With --histogram the matching rows are bucketed
by the given time column instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			var src io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			text, err := io.ReadAll(src)
			if err != nil {
				return err
			}
			parsed, err := lql.ParseRequest(string(text))
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer e.close()

			q, err := e.catalog.NewQuery(engine.RequestFromLQL(parsed))
			if err != nil {
				return err
			}

			var out any
			if histColumn != "" {
				out, err = q.Histogram(cmd.Context(), histColumn, histInterval)
			} else {
				out, err = q.Execute(cmd.Context())
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&histColumn, "histogram", "", "bucket matching rows by this time column")
	cmd.Flags().DurationVar(&histInterval, "interval", time.Hour, "histogram bucket width")
	return cmd
}

func newArchiveCmd(configPath *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "archive <log file>",
		Short: "Compress a plain log file into a named archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			if dir == "" {
				dir = cfg.ArchiveDir
			}
			if dir == "" {
				dir = filepath.Dir(args[0])
			}

			w, err := storage.NewWriter()
			if err != nil {
				return err
			}
			defer w.Close()

			path, err := w.Compress(args[0], dir)
			if err != nil {
				return err
			}
			log.Info("archive written", zap.String("src", args[0]), zap.String("path", path))
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (defaults to the configured archive dir)")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <token>",
		Short: "Print the bcrypt hash to put in auth.keys for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := server.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
