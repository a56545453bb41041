package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArticlesArchived tracks articles fetched, uploaded, and recorded.
	ArticlesArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_articles_archived_total",
		Help: "The total number of articles successfully archived.",
	})
	// ArticlesSkipped tracks URLs short-circuited by the ledger.
	ArticlesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_articles_skipped_total",
		Help: "The total number of URLs skipped because they were already archived.",
	})
	// ArticlesAbsent tracks URLs answered with 404 or a redirect.
	ArticlesAbsent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_articles_absent_total",
		Help: "The total number of candidate URLs that do not exist on the source site.",
	})
	// ArticlesFailed tracks URLs that failed fetch or upload this run.
	ArticlesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_articles_failed_total",
		Help: "The total number of articles that failed to archive.",
	})
	// DiscoveryFallbacks tracks dates where index discovery yielded nothing
	// and brute-force generation was used.
	DiscoveryFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_discovery_fallbacks_total",
		Help: "The total number of dates that fell back to brute-force URL generation.",
	})
	// MetadataTasksApplied tracks title corrections applied by the background queue.
	MetadataTasksApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_metadata_tasks_applied_total",
		Help: "The total number of metadata title corrections applied.",
	})
	// MetadataTasksDropped tracks title corrections dropped on queue saturation.
	MetadataTasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_metadata_tasks_dropped_total",
		Help: "The total number of metadata title corrections dropped because the queue was full.",
	})
)
