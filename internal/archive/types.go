// Package archive defines the crawl-and-archive pipeline: shared types,
// the per-URL fetch-and-archive worker, and the date-range orchestrator.
package archive

import "context"

// Outcome is the terminal result of archiving a single article URL.
type Outcome int

// Outcome values reported by the worker.
const (
	// OutcomeArchived means the article was fetched, uploaded, and recorded.
	OutcomeArchived Outcome = iota
	// OutcomeSkipped means the ledger already held the URL.
	OutcomeSkipped
	// OutcomeAbsent means the source returned 404 or a redirect; the article
	// does not exist. Not an error.
	OutcomeAbsent
	// OutcomeFailed means fetch or upload failed for this run. The URL stays
	// out of the ledger and remains eligible for a future run.
	OutcomeFailed
)

// String renders the outcome for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeArchived:
		return "archived"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeAbsent:
		return "absent"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TitleTask is a best-effort metadata correction queued after an upload.
type TitleTask struct {
	Bucket string
	Key    string
	Title  string
}

// Ledger records which URLs have been archived and the resumable cursor.
type Ledger interface {
	IsArchived(ctx context.Context, url string) (bool, error)
	RecordUpload(ctx context.Context, url, bucket, key, title string) error
	ArchivedURLs(ctx context.Context) (map[string]struct{}, error)
	TitlesByKeys(ctx context.Context, keys []string) (map[string]string, error)
	SetLastProcessedDate(ctx context.Context, date string) error
	LastProcessedDate(ctx context.Context) (string, error)
}

// RemoteStore uploads content to the Internet Archive and patches item
// metadata. All operations report failure through their return value, never
// by panicking or leaking transport errors.
type RemoteStore interface {
	UploadFile(ctx context.Context, bucket, key string, content []byte, contentType string, meta map[string]string) bool
	VerifyFileUploaded(ctx context.Context, bucket, key string) bool
	UpdateFileMetadata(ctx context.Context, bucket, filename, title string) bool
}

// Discoverer produces the candidate article URLs for one calendar date.
type Discoverer interface {
	ArticleURLs(ctx context.Context, dateStr string) []string
}

// TitleExtractor pulls a display title out of fetched HTML, or "" when no
// usable title is present.
type TitleExtractor func(content []byte) string

// IndexRenderer builds the monthly index HTML from archived keys grouped by
// date plus the titles known for them.
type IndexRenderer func(bucket string, keysByDate map[string][]string, titles map[string]string) string
