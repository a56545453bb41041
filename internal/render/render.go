// Package render builds the static monthly index pages uploaded alongside
// the archived articles.
package render

import (
	"html/template"
	"sort"
	"strings"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="zh-Hant">
<head>
<meta charset="utf-8">
<title>{{.Bucket}}</title>
</head>
<body>
<h1>{{.Bucket}}</h1>
{{range .Days}}<h2>{{.Date}}</h2>
<ul>
{{range .Articles}}<li><a href="{{.Key}}">{{.Label}}</a></li>
{{end}}</ul>
{{end}}</body>
</html>
`))

type article struct {
	Key   string
	Label string
}

type day struct {
	Date     string
	Articles []article
}

type page struct {
	Bucket string
	Days   []day
}

// IndexPage renders the archive index for one monthly bucket: articles
// grouped by date in chronological order, labeled with their recorded titles
// where known and their keys otherwise.
func IndexPage(bucket string, keysByDate map[string][]string, titles map[string]string) string {
	p := page{Bucket: bucket}

	dates := make([]string, 0, len(keysByDate))
	for d := range keysByDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, d := range dates {
		keys := append([]string(nil), keysByDate[d]...)
		sort.Strings(keys)

		articles := make([]article, 0, len(keys))
		for _, k := range keys {
			label := titles[k]
			if label == "" {
				label = k
			}
			articles = append(articles, article{Key: k, Label: label})
		}
		p.Days = append(p.Days, day{Date: d, Articles: articles})
	}

	var b strings.Builder
	if err := indexTemplate.Execute(&b, p); err != nil {
		return ""
	}
	return b.String()
}
