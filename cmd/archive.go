package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openhkarchive/mingpao-archiver/internal/app"
	"github.com/openhkarchive/mingpao-archiver/internal/archive"
	"github.com/openhkarchive/mingpao-archiver/internal/discovery"
	"github.com/openhkarchive/mingpao-archiver/internal/health"
	"github.com/openhkarchive/mingpao-archiver/internal/render"
	"github.com/openhkarchive/mingpao-archiver/internal/server"
	"github.com/openhkarchive/mingpao-archiver/internal/title"
)

const dateLayout = "20060102"

func newArchiveCmd() *cobra.Command {
	var startFlag, endFlag string

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archives a date range of articles",
		Long: `Discovers and archives every article for each date in the configured
range. Already-archived URLs are skipped via the local ledger, and the run
resumes after the last fully processed date.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchive(cmd.Context(), startFlag, endFlag)
		},
	}

	cmd.Flags().StringVar(&startFlag, "start", "", "start date (YYYYMMDD, overrides config)")
	cmd.Flags().StringVar(&endFlag, "end", "", "end date (YYYYMMDD, overrides config)")
	return cmd
}

func runArchive(ctx context.Context, startFlag, endFlag string) error {
	a, err := app.New(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	start, end, err := resolveDateRange(a, startFlag, endFlag)
	if err != nil {
		return err
	}

	checker := health.New(a.IA, a.Config.Source.BaseURL, a.Config.Source.UserAgent,
		a.Logger.Named("health"))
	if err := checker.Check(ctx); err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	if a.Config.Server.Enabled {
		srv := server.New(a.Config.Server.Port, a.Logger.Named("server"))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	gen := discovery.New(discovery.Config{
		BaseURL:    a.Config.Source.BaseURL,
		UserAgent:  a.Config.Source.UserAgent,
		Timeout:    a.Config.SourceTimeout(),
		MaxRetries: a.Config.Archive.MaxRetries,
	}, a.Logger.Named("discovery"))

	queue := archive.NewTitleQueue(a.Config.Archive.MetadataQueueSize, a.IA,
		a.Logger.Named("metadata"))

	fetchRetry := archive.NewRetryPolicy(a.Config.Archive.MaxRetries,
		archive.ExponentialBackoff(time.Second, time.Second))
	archiver := archive.NewArchiver(a.IA, a.Ledger, fetchRetry, title.Extract,
		queue.Enqueue, archive.ArchiverConfig{
			UserAgent:     a.Config.Source.UserAgent,
			FetchTimeout:  a.Config.SourceTimeout(),
			VerifyUploads: a.Config.Archive.VerifyUploads,
		}, a.Logger.Named("worker"))

	orch := archive.NewOrchestrator(gen, a.Ledger, a.IA, archiver, queue,
		render.IndexPage, archive.OrchestratorConfig{
			Workers:    a.Config.Archive.Workers,
			BatchDays:  a.Config.Archive.BatchDays,
			ItemPrefix: a.Config.IA.ItemPrefix,
		}, a.Logger.Named("orchestrator"))

	summary, err := orch.Run(ctx, start, end)
	if err != nil {
		return err
	}

	a.Logger.Info("archive run finished",
		zap.Int("dates", summary.Dates),
		zap.Int("archived", summary.Archived),
		zap.Int("skipped", summary.Skipped),
		zap.Int("absent", summary.Absent),
		zap.Int("failed", summary.Failed))
	return nil
}

func resolveDateRange(a *app.App, startFlag, endFlag string) (time.Time, time.Time, error) {
	startStr := a.Config.Archive.StartDate
	if startFlag != "" {
		startStr = startFlag
	}
	endStr := a.Config.Archive.EndDate
	if endFlag != "" {
		endStr = endFlag
	}
	if endStr == "" {
		endStr = time.Now().UTC().Format(dateLayout)
	}
	if startStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("no start date: set --start or archive.start_date")
	}

	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start date %q: %w", startStr, err)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end date %q: %w", endStr, err)
	}
	return start, end, nil
}
