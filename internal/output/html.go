package output

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/patrykstefanski/async-bench/internal/model"
)

// htmlReportData is the input of the HTML results page.
type htmlReportData struct {
	Title     string
	Generated time.Time
	Results   []*model.Result
	Fastest   *model.Result
	MaxRate   float64
}

// WriteHTML renders results as a self-contained HTML page.
func WriteHTML(w io.Writer, title string, results []*model.Result) error {
	tmpl, err := template.New("results").Funcs(htmlFuncs()).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	data := htmlReportData{
		Title:     title,
		Generated: time.Now(),
		Results:   results,
		Fastest:   fastest(results),
	}
	if data.Fastest != nil {
		data.MaxRate = data.Fastest.Rate
	}

	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

func htmlFuncs() template.FuncMap {
	return template.FuncMap{
		"formatLatency": formatDurationShort,
		"formatNumber": func(n int) string {
			return formatNumber(int64(n))
		},
		"seconds": func(d time.Duration) string {
			return fmt.Sprintf("%.2fs", d.Seconds())
		},
		// percentOf returns v as a percentage of max for the rate bars.
		"percentOf": func(v, total float64) string {
			if total <= 0 {
				return "0"
			}
			return fmt.Sprintf("%.1f", v/total*100)
		},
		"mulInt": func(a, b int) int {
			return a * b
		},
	}
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}} - Benchmark Results</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; margin: 0; background: #0f172a; color: #e2e8f0; }
        .container { max-width: 1200px; margin: 0 auto; padding: 2rem; }
        h1 { margin: 0 0 .25rem 0; }
        .meta { color: #94a3b8; margin-bottom: 2rem; }
        .highlight { background: #1e293b; border-left: 4px solid #22c55e; padding: 1rem; margin-bottom: 2rem; }
        table { width: 100%; border-collapse: collapse; background: #1e293b; }
        th, td { padding: .5rem .75rem; text-align: left; border-bottom: 1px solid #334155; white-space: nowrap; }
        th { color: #94a3b8; font-weight: 600; font-size: .85rem; text-transform: uppercase; }
        td.num { text-align: right; font-variant-numeric: tabular-nums; }
        .bar { background: #334155; height: .5rem; min-width: 120px; }
        .bar > div { background: #38bdf8; height: 100%; }
        .empty { color: #94a3b8; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="meta">Generated {{.Generated.Format "2006-01-02 15:04:05"}} &middot; {{len .Results}} results</div>

        {{if .Fastest}}
        <div class="highlight">
            Highest rate: <strong>{{.Fastest.Benchmark}}</strong> on <strong>{{.Fastest.Server}}</strong>
            ({{printf "%.2f" .Fastest.Rate}} req/s)
        </div>
        {{end}}

        {{if .Results}}
        <table>
            <thead>
                <tr>
                    <th>Server</th>
                    <th>Mode</th>
                    <th>Benchmark</th>
                    <th>Kind</th>
                    <th>Conns</th>
                    <th>Requests</th>
                    <th>Elapsed</th>
                    <th>Rate [req/s]</th>
                    <th></th>
                    <th>Median</th>
                    <th>Q 0.99</th>
                    <th>Q 0.9999</th>
                    <th>Max</th>
                </tr>
            </thead>
            <tbody>
                {{range .Results}}
                <tr>
                    <td>{{.Server}}</td>
                    <td>{{if .Mode}}{{.Mode}}{{else}}-{{end}}</td>
                    <td>{{.Benchmark}}</td>
                    <td>{{.Kind}}</td>
                    <td class="num">{{formatNumber (mulInt .Workers .Conns)}}</td>
                    <td class="num">{{formatNumber .Requests}}</td>
                    <td class="num">{{seconds .Elapsed}}</td>
                    <td class="num">{{printf "%.2f" .Rate}}</td>
                    <td><div class="bar"><div style="width: {{percentOf .Rate $.MaxRate}}%"></div></div></td>
                    {{if .Latency}}
                    <td class="num">{{formatLatency .Latency.Median}}</td>
                    <td class="num">{{formatLatency .Latency.Q99}}</td>
                    <td class="num">{{formatLatency .Latency.Q9999}}</td>
                    <td class="num">{{formatLatency .Latency.Max}}</td>
                    {{else}}
                    <td class="num">-</td><td class="num">-</td><td class="num">-</td><td class="num">-</td>
                    {{end}}
                </tr>
                {{end}}
            </tbody>
        </table>
        {{else}}
        <p class="empty">No results.</p>
        {{end}}
    </div>
</body>
</html>
`
