package archive

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// keyPattern extracts the IA key (date + article code) from an article URL.
var keyPattern = regexp.MustCompile(`News/(\d{8}/HK-[^/]+_r\.htm)`)

// ArchiverConfig controls per-URL fetch behavior.
type ArchiverConfig struct {
	UserAgent     string
	FetchTimeout  time.Duration
	VerifyUploads bool
}

// Archiver is the per-URL unit of work: ledger short-circuit, fetch with
// retry and HTTP-outcome classification, upload, ledger record, and an
// optional best-effort title-correction enqueue.
type Archiver struct {
	store        RemoteStore
	ledger       Ledger
	client       *http.Client
	retry        RetryPolicy
	extractTitle TitleExtractor
	enqueueTitle func(TitleTask) bool
	cfg          ArchiverConfig
	logger       *zap.Logger
}

// NewArchiver constructs an Archiver. enqueueTitle may be nil when metadata
// correction is disabled.
func NewArchiver(
	store RemoteStore,
	ledger Ledger,
	retry RetryPolicy,
	extractTitle TitleExtractor,
	enqueueTitle func(TitleTask) bool,
	cfg ArchiverConfig,
	logger *zap.Logger,
) *Archiver {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Archiver{
		store:  store,
		ledger: ledger,
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
			// Ming Pao redirects missing articles to a generic error page;
			// a redirect must surface as its 3xx status, never be followed.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		retry:        retry,
		extractTitle: extractTitle,
		enqueueTitle: enqueueTitle,
		cfg:          cfg,
		logger:       logger,
	}
}

// ArchiveArticle runs the full state machine for one URL. Failures are
// terminal for this run only: a URL that fails is never written to the
// ledger and stays eligible for a future run.
func (a *Archiver) ArchiveArticle(ctx context.Context, url, bucket string) Outcome {
	archived, err := a.ledger.IsArchived(ctx, url)
	if err != nil {
		a.logger.Error("ledger lookup failed", zap.String("url", url), zap.Error(err))
		ArticlesFailed.Inc()
		return OutcomeFailed
	}
	if archived {
		ArticlesSkipped.Inc()
		return OutcomeSkipped
	}

	content, outcome := a.fetch(ctx, url)
	if outcome != OutcomeArchived {
		switch outcome {
		case OutcomeAbsent:
			ArticlesAbsent.Inc()
		case OutcomeFailed:
			ArticlesFailed.Inc()
		}
		return outcome
	}

	key := deriveKey(url)
	title := ""
	if a.extractTitle != nil {
		title = a.extractTitle(content)
	}

	meta := map[string]string{
		"originalurl": url,
		"date":        keyDate(key),
	}
	if !a.store.UploadFile(ctx, bucket, key, content, "text/html", meta) {
		a.logger.Error("upload failed", zap.String("url", url), zap.String("key", key))
		ArticlesFailed.Inc()
		return OutcomeFailed
	}

	if a.cfg.VerifyUploads && !a.store.VerifyFileUploaded(ctx, bucket, key) {
		// The upload may well have landed; a future run re-uploads, which
		// the remote store resolves as an overwrite.
		a.logger.Warn("upload not visible after verification window",
			zap.String("url", url), zap.String("key", key))
		ArticlesFailed.Inc()
		return OutcomeFailed
	}

	// The ledger write happens only after a confirmed upload. A crash before
	// this point causes a harmless re-fetch on the next run.
	if err := a.ledger.RecordUpload(ctx, url, bucket, key, title); err != nil {
		a.logger.Error("ledger write failed", zap.String("url", url), zap.Error(err))
		ArticlesFailed.Inc()
		return OutcomeFailed
	}

	if title != "" && a.enqueueTitle != nil {
		if !a.enqueueTitle(TitleTask{Bucket: bucket, Key: key, Title: title}) {
			MetadataTasksDropped.Inc()
			a.logger.Warn("metadata queue full, title correction dropped",
				zap.String("key", key))
		}
	}

	ArticlesArchived.Inc()
	a.logger.Info("article archived",
		zap.String("url", url),
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.String("title", title))
	return OutcomeArchived
}

// fetch retrieves the article body, classifying the HTTP outcome. It returns
// OutcomeArchived with the body on 200, OutcomeAbsent on 404 or a redirect,
// and OutcomeFailed after exhausting retries on transient errors.
func (a *Archiver) fetch(ctx context.Context, url string) ([]byte, Outcome) {
	// Plain HTTP avoids TLS handshake issues with the source's legacy hosts.
	fetchURL := strings.Replace(url, "https://", "http://", 1)

	for attempt := 0; attempt < a.retry.Attempts(); attempt++ {
		body, outcome, retryable := a.fetchOnce(ctx, fetchURL, attempt)
		if !retryable {
			return body, outcome
		}
		if attempt < a.retry.MaxRetries {
			if err := a.retry.Wait(ctx, attempt); err != nil {
				return nil, OutcomeFailed
			}
		}
	}

	a.logger.Error("fetch failed after retries",
		zap.String("url", fetchURL), zap.Int("attempts", a.retry.Attempts()))
	return nil, OutcomeFailed
}

func (a *Archiver) fetchOnce(ctx context.Context, url string, attempt int) ([]byte, Outcome, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		a.logger.Error("build fetch request", zap.String("url", url), zap.Error(err))
		return nil, OutcomeFailed, false
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, OutcomeFailed, false
		}
		a.logger.Warn("fetch attempt failed",
			zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(err))
		return nil, OutcomeFailed, true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			a.logger.Warn("read body failed",
				zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(err))
			return nil, OutcomeFailed, true
		}
		return body, OutcomeArchived, false
	case resp.StatusCode == http.StatusNotFound:
		return nil, OutcomeAbsent, false
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Redirect means the article does not exist.
		return nil, OutcomeAbsent, false
	default:
		a.logger.Warn("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("status", resp.StatusCode))
		return nil, OutcomeFailed, true
	}
}

// deriveKey builds the IA key from an article URL: the date and filename
// when the URL matches the news path pattern, otherwise the last two path
// segments.
func deriveKey(url string) string {
	if m := keyPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	parts := strings.Split(url, "/")
	if len(parts) < 2 {
		return url
	}
	return strings.Join(parts[len(parts)-2:], "/")
}

func keyDate(key string) string {
	if i := strings.IndexByte(key, '/'); i > 0 {
		return key[:i]
	}
	return time.Now().Format("20060102")
}
