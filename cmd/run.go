package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PadTo/lol-match-pipeline/internal/archive"
	"github.com/PadTo/lol-match-pipeline/internal/config"
	"github.com/PadTo/lol-match-pipeline/internal/metrics"
	"github.com/PadTo/lol-match-pipeline/internal/pipeline"
	"github.com/PadTo/lol-match-pipeline/internal/ratelimit"
	"github.com/PadTo/lol-match-pipeline/internal/retry"
	"github.com/PadTo/lol-match-pipeline/internal/riot"
	"github.com/PadTo/lol-match-pipeline/internal/store/postgres"
)

// newRunCmd creates the 'run' subcommand, which executes the staged
// collection workflow once and exits.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the collection pipeline",
		Long: `Executes the enabled stages in order: ladder entries, match ids, match
details, match timelines. Each run picks up where the database left off.`,
		RunE: runPipelineCommand,
	}
}

func runPipelineCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	metrics.Init()
	if cfg.Metrics.Enabled {
		shutdown := startMetricsServer(cfg.Metrics.Port, logger)
		defer shutdown()
	}

	limiter, err := ratelimit.New(cfg.LimiterConfig())
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	policy := retry.New(cfg.RetryPolicyConfig())

	archiver, closeArchiver, err := buildArchiver(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("init archive: %w", err)
	}
	defer closeArchiver()

	client, err := riot.NewClient(cfg.ClientConfig(), limiter, policy, archiver, logger.Named("riot"))
	if err != nil {
		return fmt.Errorf("init api client: %w", err)
	}

	st, err := postgres.New(ctx, cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	p, err := pipeline.New(client, st, cfg.PipelineOptions(), logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	summary, runErr := p.Run(ctx)
	reportSummary(logger, summary)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run pipeline: %w", runErr)
	}
	return nil
}

// buildArchiver returns the configured raw-payload archiver, or nil when
// archival is disabled. The returned func releases backend resources.
func buildArchiver(ctx context.Context, cfg config.ArchiveConfig) (archive.Archiver, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", "none":
		return nil, noop, nil
	case "local":
		local, err := archive.NewLocal(cfg.LocalDir)
		if err != nil {
			return nil, noop, err
		}
		return local, noop, nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, noop, err
		}
		a, err := archive.NewGCS(client, cfg.GCSBucket, cfg.Prefix)
		if err != nil {
			client.Close() //nolint:errcheck
			return nil, noop, err
		}
		return a, func() { client.Close() }, nil //nolint:errcheck
	default:
		return nil, noop, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

func startMetricsServer(port int, logger *zap.Logger) func() {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
}

func reportSummary(logger *zap.Logger, summary pipeline.Summary) {
	stages := []struct {
		name string
		s    pipeline.StageSummary
	}{
		{"ladder", summary.Ladder},
		{"match_ids", summary.MatchIDs},
		{"details", summary.Details},
		{"timelines", summary.Timelines},
	}
	for _, st := range stages {
		logger.Info("stage summary",
			zap.String("run_id", summary.RunID),
			zap.String("stage", st.name),
			zap.Int64("items", st.s.Items),
			zap.Int64("inserted", st.s.Inserted),
			zap.Int64("skipped", st.s.Skipped),
			zap.Int64("failed", st.s.Failed))
	}
	logger.Info("run complete",
		zap.String("run_id", summary.RunID),
		zap.Duration("elapsed", summary.Finished.Sub(summary.Started)))
}
