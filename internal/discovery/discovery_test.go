package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openhkarchive/mingpao-archiver/internal/archive"
)

const testDate = "20250105"

func newTestGenerator(t *testing.T, handler http.Handler) *Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := New(Config{
		BaseURL:    srv.URL,
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}, zap.NewNop())
	g.retry = archive.NewRetryPolicy(2, archive.LinearBackoff(time.Millisecond))
	return g
}

const indexPage = `<html><body>
<a href="htm/News/20250105/HK-gba2_r.htm">second</a>
<a href="htm/News/20250105/HK-gaa1_r.htm">first</a>
<a href="htm/News/20250105/HK-gaa1_r.htm">duplicate</a>
<a href="htm/News/20250105/HK-GAindex_r.htm">self link</a>
<a href="htm/News/20250104/HK-gaa1_r.htm">yesterday</a>
<a href="mailto:news@example.com">contact</a>
</body></html>`

func TestArticleURLs_FromIndex(t *testing.T) {
	t.Parallel()
	var gotUA string
	g := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		require.Equal(t, "/htm/News/20250105/HK-GAindex_r.htm", r.URL.Path)
		_, _ = w.Write([]byte(indexPage))
	}))

	urls := g.ArticleURLs(context.Background(), testDate)

	// Deduplicated, sorted, index and off-date links excluded.
	require.Equal(t, []string{
		g.cfg.BaseURL + "/htm/News/20250105/HK-gaa1_r.htm",
		g.cfg.BaseURL + "/htm/News/20250105/HK-gba2_r.htm",
	}, urls)
	require.Equal(t, "test-agent", gotUA)
}

func TestArticleURLs_IndexMissingFallsBack(t *testing.T) {
	t.Parallel()
	requests := 0
	g := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))

	urls := g.ArticleURLs(context.Background(), testDate)

	require.Len(t, urls, len(sectionCodes)*articleNumbers)
	require.Equal(t, 1, requests, "a missing index is terminal, not retried")
	require.Equal(t, g.cfg.BaseURL+"/htm/News/20250105/HK-gaa1_r.htm", urls[0])
	require.Equal(t, g.cfg.BaseURL+"/htm/News/20250105/HK-gzc8_r.htm", urls[len(urls)-1])
}

func TestArticleURLs_IndexRedirectFallsBack(t *testing.T) {
	t.Parallel()
	requests := 0
	g := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Redirect(w, r, "/htm/News/errorpage.htm", http.StatusFound)
	}))

	urls := g.ArticleURLs(context.Background(), testDate)

	// The redirect target is never fetched.
	require.Equal(t, 1, requests)
	require.Len(t, urls, len(sectionCodes)*articleNumbers)
}

func TestArticleURLs_EmptyIndexFallsBack(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>no articles today</p></body></html>`))
	}))

	urls := g.ArticleURLs(context.Background(), testDate)
	require.Len(t, urls, len(sectionCodes)*articleNumbers)
}

func TestArticleURLs_TransientThenSuccess(t *testing.T) {
	t.Parallel()
	requests := 0
	g := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(indexPage))
	}))

	urls := g.ArticleURLs(context.Background(), testDate)

	require.Equal(t, 2, requests)
	require.Len(t, urls, 2)
}

func TestArticleURLs_RetriesExhaustedFallsBack(t *testing.T) {
	t.Parallel()
	requests := 0
	g := newTestGenerator(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))

	urls := g.ArticleURLs(context.Background(), testDate)

	require.Equal(t, g.retry.Attempts(), requests)
	require.Len(t, urls, len(sectionCodes)*articleNumbers)
}

func TestGenerateBruteforce_Deterministic(t *testing.T) {
	t.Parallel()
	g := New(Config{BaseURL: "https://www.mingpaocanada.com/tor"}, zap.NewNop())

	first := g.generateBruteforce(testDate)
	second := g.generateBruteforce(testDate)

	require.Equal(t, first, second)
	require.Len(t, first, 328)
	require.True(t, sort.StringsAreSorted(first))
	for _, u := range first {
		require.True(t, strings.HasPrefix(u, "https://www.mingpaocanada.com/tor/htm/News/20250105/HK-"))
		require.True(t, strings.HasSuffix(u, "_r.htm"))
	}
}
