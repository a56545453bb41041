// Package title extracts display titles from fetched article HTML.
package title

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extract returns the cleaned article title, or "" when the content holds no
// usable one. It prefers the article headline element and falls back to the
// document title with the site-name suffix stripped.
func Extract(content []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	if headline := clean(doc.Find("h3.article-title").First().Text()); headline != "" {
		return headline
	}

	t := clean(doc.Find("title").First().Text())
	if t == "" {
		return ""
	}
	// Page titles carry a " - Ming Pao ..." suffix.
	if i := strings.LastIndex(t, " - "); i > 0 {
		t = t[:i]
	}
	return clean(t)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
