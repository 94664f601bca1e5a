package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/KaiOuYang/WebAppStart/app"
	"github.com/KaiOuYang/WebAppStart/cfg"
	"github.com/KaiOuYang/WebAppStart/cfg/provider"
	"github.com/KaiOuYang/WebAppStart/log"
	"github.com/KaiOuYang/WebAppStart/rdb"
	"github.com/KaiOuYang/WebAppStart/web"
)

var Version = "dev"

type Options struct {
	Addr            string        `cfg:"addr" def:":9000"`
	ShutdownTimeout time.Duration `cfg:"shutdownTimeout" def:"10s"`
	MetricsPath     string        `cfg:"metricsPath" def:"/metrics"`

	Log      log.Options    `cfg:"log"`
	Database rdb.Options    `cfg:"database"`
	Web      web.AppOptions `cfg:"web"`
}

type flags struct {
	config    string
	overrides []string
	envFiles  []string
	envPrefix string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "webapp",
		Short:         "Sample blog service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "config.yaml", "default config file")
	pf.StringSliceVarP(&f.overrides, "override", "o", nil, "override config files, merged in order, missing files are skipped")
	pf.StringSliceVar(&f.envFiles, "env-file", nil, "dotenv files applied over the process environment")
	pf.StringVar(&f.envPrefix, "env-prefix", "WEBAPP_", "environment variable prefix")

	root.AddCommand(newServeCommand(f))
	root.AddCommand(newMigrateCommand(f))
	root.AddCommand(newConfigCommand(f))
	return root
}

func (f *flags) load() (*cfg.Config, *Options, error) {
	conf, err := cfg.LoadWithOptions(&cfg.Options{
		Default:   f.config,
		Overrides: f.overrides,
		Env: &provider.EnvProviderOptions{
			EnvFiles: f.envFiles,
			Prefix:   f.envPrefix,
		},
	})
	if err != nil {
		return nil, nil, errors.WithMessage(err, "cfg.LoadWithOptions failed")
	}

	var options Options
	if err := conf.ConvertTo(&options); err != nil {
		_ = conf.Close()
		return nil, nil, errors.WithMessage(err, "conf.ConvertTo failed")
	}
	return conf, &options, nil
}

func newLogger(options *Options) (log.Logger, error) {
	logger, err := log.NewSLogWithOptions(&options.Log)
	if err != nil {
		return nil, errors.WithMessage(err, "log.NewSLogWithOptions failed")
	}
	log.SetDefault(logger)
	return logger, nil
}

func newServeCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, options, err := f.load()
			if err != nil {
				return err
			}
			defer conf.Close()

			logger, err := newLogger(options)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), options, logger)
		},
	}
}

func serve(ctx context.Context, options *Options, logger log.Logger) error {
	pool, err := rdb.NewPoolWithOptions(ctx, &options.Database, rdb.WithLogger(logger))
	if err != nil {
		return errors.WithMessage(err, "rdb.NewPoolWithOptions failed")
	}
	defer pool.Close()

	webOptions := options.Web
	webOptions.Logger = logger
	server, err := web.NewAppWithOptions(&webOptions)
	if err != nil {
		return errors.WithMessage(err, "web.NewAppWithOptions failed")
	}
	if err := server.AddRoutes(app.NewHandlers(pool, logger)); err != nil {
		return errors.WithMessage(err, "server.AddRoutes failed")
	}
	if options.MetricsPath != "" {
		server.Handle(options.MetricsPath, promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:              options.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", options.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "httpServer.ListenAndServe failed")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), options.ShutdownTimeout)
		defer shutdownCancel()
		return errors.Wrap(httpServer.Shutdown(shutdownCtx), "httpServer.Shutdown failed")
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown completed")
	return nil
}

func newMigrateCommand(f *flags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create tables for all models",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return printDDL(cmd.OutOrStdout())
			}

			conf, options, err := f.load()
			if err != nil {
				return err
			}
			defer conf.Close()

			logger, err := newLogger(options)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), &options.Database, logger)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the create table statements only")
	return cmd
}

func printDDL(w io.Writer) error {
	for _, s := range app.Schemas() {
		if _, err := fmt.Fprintf(w, "%s;\n\n", s.CreateTableSQL()); err != nil {
			return errors.Wrap(err, "write failed")
		}
	}
	return nil
}

func migrate(ctx context.Context, options *rdb.Options, logger log.Logger) error {
	pool, err := rdb.NewPoolWithOptions(ctx, options, rdb.WithLogger(logger))
	if err != nil {
		return errors.WithMessage(err, "rdb.NewPoolWithOptions failed")
	}
	defer pool.Close()

	for _, s := range app.Schemas() {
		if err := s.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("table migrated", "table", s.Table())
	}
	return nil
}

func newConfigCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the merged configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, _, err := f.load()
			if err != nil {
				return err
			}
			defer conf.Close()

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(conf.Data()); err != nil {
				return errors.Wrap(err, "yaml.Encode failed")
			}
			return errors.Wrap(enc.Close(), "yaml.Close failed")
		},
	}
}
