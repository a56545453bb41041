package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dateLayout = "20060102"

// OrchestratorConfig controls date batching and worker fan-out.
type OrchestratorConfig struct {
	Workers      int
	BatchDays    int
	ItemPrefix   string
	DrainTimeout time.Duration
}

// Summary aggregates per-URL outcomes across a run.
type Summary struct {
	Dates    int
	Archived int
	Skipped  int
	Absent   int
	Failed   int
}

// Orchestrator drives the pipeline: per-date discovery, ledger filtering,
// bounded concurrent archiving, cursor updates, the background metadata
// queue lifecycle, and end-of-run index generation.
type Orchestrator struct {
	discoverer Discoverer
	ledger     Ledger
	store      RemoteStore
	archiver   *Archiver
	queue      *TitleQueue
	render     IndexRenderer
	cfg        OrchestratorConfig
	logger     *zap.Logger
}

// NewOrchestrator wires the pipeline together. queue and render may be nil
// to disable metadata correction and index generation respectively.
func NewOrchestrator(
	discoverer Discoverer,
	ledger Ledger,
	store RemoteStore,
	archiver *Archiver,
	queue *TitleQueue,
	render IndexRenderer,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchDays <= 0 {
		cfg.BatchDays = 30
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Orchestrator{
		discoverer: discoverer,
		ledger:     ledger,
		store:      store,
		archiver:   archiver,
		queue:      queue,
		render:     render,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run archives every date from start through end inclusive. Per-URL failures
// are counted, never fatal; the returned error covers only failures that
// prevent the run from proceeding at all.
func (o *Orchestrator) Run(ctx context.Context, start, end time.Time) (Summary, error) {
	logger := o.logger.With(zap.String("run_id", uuid.NewString()))

	start, end = start.Truncate(24*time.Hour), end.Truncate(24*time.Hour)
	if end.Before(start) {
		return Summary{}, fmt.Errorf("end date %s precedes start date %s",
			end.Format(dateLayout), start.Format(dateLayout))
	}

	start, err := o.resumeFrom(ctx, start)
	if err != nil {
		return Summary{}, err
	}
	if end.Before(start) {
		logger.Info("nothing to do, range already processed")
		return Summary{}, nil
	}

	if o.queue != nil {
		o.queue.Start(ctx)
		// Closed on every exit path so the consumer never leaks, interrupted
		// runs included.
		defer o.queue.Close(o.cfg.DrainTimeout)
	}

	var (
		summary Summary
		indexMu sync.Mutex
		// bucket -> date -> archived keys, for end-of-run index pages.
		monthly = make(map[string]map[string][]string)
		// The cursor marks the newest date with no failed URLs behind it.
		// Once a date fails it stops advancing so the next run retries
		// everything from that date on; already-archived URLs are cheap
		// ledger skips.
		advanceCursor = true
	)

	for batchStart := start; !batchStart.After(end); batchStart = batchStart.AddDate(0, 0, o.cfg.BatchDays) {
		batchEnd := batchStart.AddDate(0, 0, o.cfg.BatchDays-1)
		if batchEnd.After(end) {
			batchEnd = end
		}
		logger.Info("processing batch",
			zap.String("from", batchStart.Format(dateLayout)),
			zap.String("to", batchEnd.Format(dateLayout)))

		for day := batchStart; !day.After(batchEnd); day = day.AddDate(0, 0, 1) {
			if ctx.Err() != nil {
				return summary, fmt.Errorf("run interrupted: %w", ctx.Err())
			}
			o.processDate(ctx, logger, day, &summary, &advanceCursor, &indexMu, monthly)
		}
	}

	o.uploadIndexPages(ctx, logger, monthly)

	logger.Info("run complete",
		zap.Int("dates", summary.Dates),
		zap.Int("archived", summary.Archived),
		zap.Int("skipped", summary.Skipped),
		zap.Int("absent", summary.Absent),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// resumeFrom advances the start date past the persisted cursor.
func (o *Orchestrator) resumeFrom(ctx context.Context, start time.Time) (time.Time, error) {
	cursor, err := o.ledger.LastProcessedDate(ctx)
	if err != nil {
		return start, fmt.Errorf("read progress cursor: %w", err)
	}
	if cursor == "" {
		return start, nil
	}
	done, err := time.Parse(dateLayout, cursor)
	if err != nil {
		return start, fmt.Errorf("malformed progress cursor %q: %w", cursor, err)
	}
	if resumed := done.AddDate(0, 0, 1); resumed.After(start) {
		o.logger.Info("resuming after last processed date", zap.String("cursor", cursor))
		return resumed, nil
	}
	return start, nil
}

// BucketForDate names the monthly IA item for a date.
func (o *Orchestrator) BucketForDate(day time.Time) string {
	return SanitizeIdentifier(fmt.Sprintf("%s-%s", o.cfg.ItemPrefix, day.Format("2006-01")))
}

func (o *Orchestrator) processDate(
	ctx context.Context,
	logger *zap.Logger,
	day time.Time,
	summary *Summary,
	advanceCursor *bool,
	indexMu *sync.Mutex,
	monthly map[string]map[string][]string,
) {
	dateStr := day.Format(dateLayout)
	bucket := o.BucketForDate(day)

	candidates := o.discoverer.ArticleURLs(ctx, dateStr)

	archived, err := o.ledger.ArchivedURLs(ctx)
	if err != nil {
		logger.Error("ledger snapshot failed, processing all candidates",
			zap.String("date", dateStr), zap.Error(err))
		archived = nil
	}

	pending := candidates[:0:0]
	for _, u := range candidates {
		if _, ok := archived[u]; !ok {
			pending = append(pending, u)
		}
	}

	logger.Info("processing date",
		zap.String("date", dateStr),
		zap.Int("candidates", len(candidates)),
		zap.Int("pending", len(pending)))

	counts := o.dispatch(ctx, pending, bucket, dateStr, indexMu, monthly)
	summary.Dates++
	summary.Archived += counts.Archived
	summary.Skipped += counts.Skipped + (len(candidates) - len(pending))
	summary.Absent += counts.Absent
	summary.Failed += counts.Failed

	if counts.Failed > 0 {
		*advanceCursor = false
		logger.Warn("date had failed urls, cursor held for retry",
			zap.String("date", dateStr), zap.Int("failed", counts.Failed))
	}
	if *advanceCursor {
		if err := o.ledger.SetLastProcessedDate(ctx, dateStr); err != nil {
			logger.Error("cursor update failed", zap.String("date", dateStr), zap.Error(err))
		}
	}

	logger.Info("date complete",
		zap.String("date", dateStr),
		zap.Int("archived", counts.Archived),
		zap.Int("absent", counts.Absent),
		zap.Int("failed", counts.Failed))
}

// dispatch fans pending URLs out to the worker pool and blocks until every
// URL for the date has a terminal outcome.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	pending []string,
	bucket, dateStr string,
	indexMu *sync.Mutex,
	monthly map[string]map[string][]string,
) Summary {
	jobs := make(chan string)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts Summary
	)

	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range jobs {
				outcome := o.archiver.ArchiveArticle(ctx, url, bucket)

				mu.Lock()
				switch outcome {
				case OutcomeArchived:
					counts.Archived++
				case OutcomeSkipped:
					counts.Skipped++
				case OutcomeAbsent:
					counts.Absent++
				case OutcomeFailed:
					counts.Failed++
				}
				mu.Unlock()

				if outcome == OutcomeArchived {
					indexMu.Lock()
					if monthly[bucket] == nil {
						monthly[bucket] = make(map[string][]string)
					}
					monthly[bucket][dateStr] = append(monthly[bucket][dateStr], deriveKey(url))
					indexMu.Unlock()
				}
			}
		}()
	}

	for _, url := range pending {
		jobs <- url
	}
	close(jobs)
	wg.Wait()

	return counts
}

// uploadIndexPages renders and uploads one index.html per monthly bucket.
// Best effort: a failed index upload never fails the run.
func (o *Orchestrator) uploadIndexPages(
	ctx context.Context,
	logger *zap.Logger,
	monthly map[string]map[string][]string,
) {
	if o.render == nil {
		return
	}

	for bucket, keysByDate := range monthly {
		var keys []string
		for date := range keysByDate {
			sort.Strings(keysByDate[date])
			keys = append(keys, keysByDate[date]...)
		}

		titles, err := o.ledger.TitlesByKeys(ctx, keys)
		if err != nil {
			logger.Warn("title lookup for index failed", zap.String("bucket", bucket), zap.Error(err))
			titles = map[string]string{}
		}

		html := o.render(bucket, keysByDate, titles)
		meta := map[string]string{"title": fmt.Sprintf("Ming Pao Canada Archive %s", bucket)}
		if !o.store.UploadFile(ctx, bucket, "index.html", []byte(html), "text/html", meta) {
			logger.Warn("index upload failed", zap.String("bucket", bucket))
			continue
		}
		logger.Info("index uploaded", zap.String("bucket", bucket), zap.Int("articles", len(keys)))
	}
}
