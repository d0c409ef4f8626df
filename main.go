// Command stagetimer serves a shared countdown timer and message overlay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"stagetimer/autosave"
	"stagetimer/server"
	"stagetimer/service"
	"stagetimer/storage"
	"syscall"
	"time"
	_ "time/tzdata"

	gcs "cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "config file (default is ./stagetimer.yml)")
	flag.Parse()

	// Optional .env for local development
	envErr := godotenv.Load()

	cfg, cfgErr := loadConfig(configPath)

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.level(),
	}))
	slog.SetDefault(logger)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", "error", envErr)
	}
	if cfgErr != nil {
		logger.Error("Failed to load configuration", "error", cfgErr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	clock := clockwork.NewRealClock()

	loc, err := cfg.location()
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.New(&service.Config{
		Store:    store,
		Clock:    clock,
		Logger:   logger,
		Location: loc,
	})
	svc.Restore(ctx)

	entries, err := cfg.allowlistEntries()
	if err != nil {
		logger.Warn("Could not load allowlist file", "error", err)
	}
	allowlist := server.NewAllowlist(entries, logger)
	for i, e := range allowlist.Entries() {
		logger.Info("Control access allowed", "index", i+1, "entry", e)
	}
	if allowlist.Len() == 0 {
		logger.Warn("Allowlist is empty, control endpoints will deny every request")
	}

	srv := server.New(&server.Config{
		Addr:          net.JoinHostPort("", cfg.Port),
		Timer:         svc,
		Logger:        logger,
		Clock:         clock,
		Allowlist:     allowlist,
		CORSOrigins:   cfg.CORSOrigins,
		ViewerTimeout: cfg.ViewerTimeout,
	})
	heartbeat := autosave.New(svc, clock, cfg.AutosaveInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error { return heartbeat.Run(gctx) })

	if dir := store.LocalPath(); dir != "" {
		watcher := storage.NewWatcher(dir, storage.HistoryKey, cfg.ReloadDebounce, clock, logger, svc.ReloadHistory)
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				logger.Warn("History watcher stopped", "error", err)
			}
			return nil
		})
	} else {
		logger.Info("History reload disabled with bucket storage")
	}

	err = g.Wait()

	if ferr := svc.Flush(context.Background()); ferr != nil {
		logger.Warn("Failed to save final snapshot", "error", ferr)
	} else {
		logger.Info("Final snapshot saved")
	}
	return err
}

// openStore selects local disk or Cloud Storage and returns a cleanup func.
func openStore(ctx context.Context, cfg config, logger *slog.Logger) (*storage.Store, func(), error) {
	if cfg.DataDir != "" {
		logger.Info("Using local storage", "storage_path", cfg.DataDir)
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create local storage directory: %w", err)
		}
		return storage.New(nil, "", cfg.DataDir, logger), func() {}, nil
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else if !isCloudRun(ctx) {
		logger.Warn("No credentials configured and not on Cloud Run, relying on application default credentials")
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize storage client: %w", err)
	}
	logger.Info("Using Cloud Storage", "bucket", cfg.Bucket)

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.New(client, cfg.Bucket, "", logger), closeFn, nil
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
