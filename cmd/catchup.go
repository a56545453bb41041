package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openhkarchive/mingpao-archiver/internal/app"
	"github.com/openhkarchive/mingpao-archiver/internal/archive"
	"github.com/openhkarchive/mingpao-archiver/internal/iaclient"
)

func newCatchupCmd() *cobra.Command {
	var startFlag, endFlag string

	cmd := &cobra.Command{
		Use:   "catchup",
		Short: "Backfills titles on already-archived files",
		Long: `Scans the remote metadata of each monthly item in the range and applies
ledger-recorded titles to files that were uploaded without one. This is the
retry path for metadata corrections dropped during archive runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCatchup(cmd.Context(), startFlag, endFlag)
		},
	}

	cmd.Flags().StringVar(&startFlag, "start", "", "start date (YYYYMMDD, overrides config)")
	cmd.Flags().StringVar(&endFlag, "end", "", "end date (YYYYMMDD, overrides config)")
	return cmd
}

func runCatchup(ctx context.Context, startFlag, endFlag string) error {
	a, err := app.New(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	start, end, err := resolveDateRange(a, startFlag, endFlag)
	if err != nil {
		return err
	}

	logger := a.Logger.Named("catchup")
	queue := archive.NewTitleQueue(a.Config.Archive.MetadataQueueSize, a.IA, logger)
	queue.Start(ctx)

	queued := 0
	for month := startOfMonth(start); !month.After(end); month = month.AddDate(0, 1, 0) {
		bucket := archive.SanitizeIdentifier(
			fmt.Sprintf("%s-%s", a.Config.IA.ItemPrefix, month.Format("2006-01")))

		n, err := enqueueMissingTitles(ctx, a.IA, a.Ledger, queue, bucket)
		if err != nil {
			logger.Warn("bucket scan failed", zap.String("bucket", bucket), zap.Error(err))
			continue
		}
		queued += n
		logger.Info("bucket scanned", zap.String("bucket", bucket), zap.Int("queued", n))
	}

	queue.Close(5 * time.Minute)
	logger.Info("catchup finished", zap.Int("queued", queued))
	return nil
}

// bucketLister reads the remote file listing of a monthly item.
type bucketLister interface {
	ListBucketFiles(ctx context.Context, bucket string) ([]iaclient.RemoteFile, error)
}

// titleSource resolves archived keys to their recorded titles.
type titleSource interface {
	TitlesByKeys(ctx context.Context, keys []string) (map[string]string, error)
}

// enqueueMissingTitles feeds the metadata applier one task per remote file
// that lacks a title the ledger knows.
func enqueueMissingTitles(
	ctx context.Context,
	lister bucketLister,
	titles titleSource,
	queue *archive.TitleQueue,
	bucket string,
) (int, error) {
	files, err := lister.ListBucketFiles(ctx, bucket)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.Title == "" {
			names = append(names, f.Name)
		}
	}

	known, err := titles.TitlesByKeys(ctx, names)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, name := range names {
		t, ok := known[name]
		if !ok {
			continue
		}
		if queue.Enqueue(archive.TitleTask{Bucket: bucket, Key: name, Title: t}) {
			queued++
		}
	}
	return queued, nil
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
