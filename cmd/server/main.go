// Wheelhouse Server
//
// Features:
// - PEP 503 / PEP 691 simple repository index (HTML + JSON)
// - Local directory, upstream proxy, and S3 bucket repositories
// - Remote artifact delivery by redirect or streaming proxy
// - Wheel METADATA extraction (PEP 658) with optional PostgreSQL cache
// - Prometheus metrics & structured logging (zap)
// - Optional htpasswd basic auth
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wheelhouse/wheelhouse/internal/api"
	"github.com/wheelhouse/wheelhouse/internal/auth"
	"github.com/wheelhouse/wheelhouse/internal/config"
	"github.com/wheelhouse/wheelhouse/internal/fetch"
	"github.com/wheelhouse/wheelhouse/internal/logging"
	"github.com/wheelhouse/wheelhouse/internal/metacache"
	"github.com/wheelhouse/wheelhouse/internal/metrics"
	"github.com/wheelhouse/wheelhouse/internal/repository/factory"
	s3repo "github.com/wheelhouse/wheelhouse/internal/repository/s3"
)

func main() {
	// Load configuration; flags override the environment
	cfg := config.Load()

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to serve the index on")
	flag.StringVar(&cfg.MetricsAddr, "metrics-listen", cfg.MetricsAddr, "address to serve Prometheus metrics on")
	flag.BoolVar(&cfg.StreamRemoteResources, "stream-remote-resources", cfg.StreamRemoteResources,
		"proxy remote package bytes through this server instead of redirecting")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json, console)")
	flag.StringVar(&cfg.HtpasswdFile, "htpasswd", cfg.HtpasswdFile, "htpasswd file with bcrypt entries; empty disables auth")
	flag.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL URL for the metadata cache; empty keeps it in memory")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] repository [repository ...]\n\n"+
				"Each repository is an http(s) index URL, a local directory, or\n"+
				"s3://bucket[/prefix]. Earlier repositories win on conflicts.\n\nFlags:\n",
			os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		cfg.Repositories = args
	}
	if len(cfg.Repositories) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one repository is required")
		flag.Usage()
		os.Exit(2)
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Wheelhouse Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("repositories", strings.Join(cfg.Repositories, " ")),
		zap.Bool("stream_remote", cfg.StreamRemoteResources))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Upstream HTTP client (netrc credentials picked up here)
	client := fetch.NewClient()

	// Metadata cache: PostgreSQL when configured, in-memory otherwise
	var cache metacache.Cache
	if cfg.DatabaseURL != "" {
		pg, err := metacache.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		cache = pg
	} else {
		cache = metacache.NewMemory()
	}
	defer cache.Close()

	// Optional basic auth
	var guard *auth.Guard
	if cfg.HtpasswdFile != "" {
		g, err := auth.LoadHtpasswd(cfg.HtpasswdFile)
		if err != nil {
			logging.Fatal("htpasswd load failed", zap.Error(err))
		}
		guard = g
	}

	// Build the repository chain from the positional arguments
	repo, err := factory.Build(ctx, cfg.Repositories, factory.Options{
		Client: client,
		Cache:  cache,
		S3: s3repo.Config{
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Region:       cfg.S3Region,
			UsePathStyle: cfg.S3UsePathStyle,
		},
	})
	if err != nil {
		logging.Fatal("repository init failed", zap.Error(err))
	}

	srv := api.NewServer(repo, client, cfg.StreamRemoteResources, guard)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown: stop accepting, then drain in-flight downloads
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		drainCtx, drainCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer drainCancel()
		if err := httpServer.Shutdown(drainCtx); err != nil {
			logging.Warn("shutdown drain incomplete", zap.Error(err))
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}
