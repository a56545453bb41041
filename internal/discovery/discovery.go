// Package discovery produces the candidate article URLs for a calendar
// date: an index-page scrape on the common path, with deterministic
// brute-force generation as the correctness backstop.
package discovery

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/openhkarchive/mingpao-archiver/internal/archive"
)

// sectionCodes covers every known HK news sub-section on the source site.
var sectionCodes = []string{
	"gaa", "gab", "gac", "gad", "gae", "gaf", "gba", "gbb", "gbc", "gbd", "gbe", "gbf",
	"gca", "gcb", "gcc", "gcd", "gce", "gcf", "gga", "ggb", "ggc", "ggd", "gge", "ggf",
	"ggh", "gha", "ghb", "ghc", "ghd", "ghe", "ghf", "gma", "gmb", "gmc", "gmd", "gme",
	"gmf", "gmg", "gza", "gzb", "gzc",
}

// articleNumbers is the per-section numeric suffix range (1..articleNumbers).
const articleNumbers = 8

var articlePathPattern = regexp.MustCompile(`htm/News/\d{8}/HK-[^/"]+_r\.htm`)

// Config controls index-page fetching.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// Generator implements archive.Discoverer for the Ming Pao Canada site.
type Generator struct {
	cfg    Config
	retry  archive.RetryPolicy
	logger *zap.Logger
}

// New builds a Generator.
func New(cfg Config, logger *zap.Logger) *Generator {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Generator{
		cfg:    cfg,
		retry:  archive.NewRetryPolicy(cfg.MaxRetries, archive.ExponentialBackoff(time.Second, time.Second)),
		logger: logger,
	}
}

// ArticleURLs returns the ordered candidate URLs for dateStr (YYYYMMDD).
// When index discovery yields nothing the deterministic brute-force set is
// returned instead; the result is never empty.
func (g *Generator) ArticleURLs(ctx context.Context, dateStr string) []string {
	urls := g.discoverFromIndex(ctx, dateStr)
	if len(urls) > 0 {
		return urls
	}
	g.logger.Info("no urls found in index, falling back to bruteforce",
		zap.String("date", dateStr))
	archive.DiscoveryFallbacks.Inc()
	return g.generateBruteforce(dateStr)
}

// discoverFromIndex scrapes the per-date index page. A missing index
// (404 or redirect) is a normal empty result; transient failures are retried
// with backoff and an exhausted budget also resolves to empty rather than
// aborting the date.
func (g *Generator) discoverFromIndex(ctx context.Context, dateStr string) []string {
	indexURL := g.cfg.BaseURL + "/htm/News/" + dateStr + "/HK-GAindex_r.htm"

	for attempt := 0; attempt < g.retry.Attempts(); attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		urls, terminal := g.scrapeIndex(dateStr, indexURL)
		if terminal {
			return urls
		}

		if attempt < g.retry.MaxRetries {
			g.logger.Warn("index fetch attempt failed",
				zap.String("url", indexURL), zap.Int("attempt", attempt+1))
			if err := g.retry.Wait(ctx, attempt); err != nil {
				return nil
			}
		}
	}

	g.logger.Warn("index discovery exhausted retries", zap.String("url", indexURL))
	return nil
}

// scrapeIndex performs one index-page fetch. terminal is false only for
// transient failures worth retrying.
func (g *Generator) scrapeIndex(dateStr, indexURL string) (urls []string, terminal bool) {
	c := colly.NewCollector()
	c.UserAgent = g.cfg.UserAgent
	c.SetRequestTimeout(g.cfg.Timeout)
	c.AllowURLRevisit = true
	// A redirected index means the date has no index page; never follow.
	c.SetRedirectHandler(func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	})

	found := make(map[string]struct{})
	var (
		missing   bool
		transient bool
	)

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		// The index links to itself and sibling index pages.
		if strings.Contains(strings.ToLower(href), "index") {
			return
		}
		path := articlePathPattern.FindString(href)
		if path == "" {
			return
		}
		if !strings.Contains(path, "News/"+dateStr+"/") {
			return
		}
		found[g.cfg.BaseURL+"/"+path] = struct{}{}
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		switch {
		case status == http.StatusNotFound,
			status >= 300 && status < 400:
			missing = true
		default:
			transient = true
			g.logger.Debug("index fetch error",
				zap.String("url", indexURL), zap.Int("status", status), zap.Error(err))
		}
	})

	if err := c.Visit(indexURL); err != nil && !missing && !transient {
		transient = true
		g.logger.Debug("index visit error", zap.String("url", indexURL), zap.Error(err))
	}

	switch {
	case missing:
		return nil, true
	case transient:
		return nil, false
	}

	urls = make([]string, 0, len(found))
	for u := range found {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, true
}

// generateBruteforce composes the Cartesian product of section codes and
// numeric suffixes into the fixed article path pattern. The result is
// deterministic, non-empty, and sorted by construction.
func (g *Generator) generateBruteforce(dateStr string) []string {
	urls := make([]string, 0, len(sectionCodes)*articleNumbers)
	base := g.cfg.BaseURL + "/htm/News/" + dateStr + "/HK-"
	for _, code := range sectionCodes {
		for n := 1; n <= articleNumbers; n++ {
			urls = append(urls, base+code+strconv.Itoa(n)+"_r.htm")
		}
	}
	return urls
}
