package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/patrykstefanski/async-bench/internal/bench"
	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/model"
)

// Format is a results output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHTML Format = "html"
)

// ParseFormat parses a format name. The empty string is FormatText.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml or html)", s)
	}
}

// PrintThroughput prints the one-line throughput summary.
func PrintThroughput(w io.Writer, res *bench.ThroughputResult) {
	fmt.Fprintln(w, res.String())
}

// PrintLatencyReport prints a latency report in nanoseconds, followed by the
// best and worst samples.
func PrintLatencyReport(w io.Writer, r *metrics.LatencyReport) {
	fmt.Fprintf(w, "Latency [ns]:\n"+
		"  mean:     %d\n"+
		"  min:      %d\n"+
		"  max:      %d\n"+
		"  median:   %d\n"+
		"  q 0.9:    %d\n"+
		"  q 0.95:   %d\n"+
		"  q 0.99:   %d\n"+
		"  q 0.995:  %d\n"+
		"  q 0.999:  %d\n"+
		"  q 0.9995: %d\n"+
		"  q 0.9999: %d\n\n",
		r.Mean.Nanoseconds(), r.Min.Nanoseconds(), r.Max.Nanoseconds(), r.Median.Nanoseconds(),
		r.Q90.Nanoseconds(), r.Q95.Nanoseconds(), r.Q99.Nanoseconds(), r.Q995.Nanoseconds(),
		r.Q999.Nanoseconds(), r.Q9995.Nanoseconds(), r.Q9999.Nanoseconds())

	fmt.Fprintf(w, "Best %d:\n", len(r.Best))
	for i, d := range r.Best {
		fmt.Fprintf(w, "  %2d. %d\n", i+1, d.Nanoseconds())
	}
	fmt.Fprintf(w, "\nWorst %d:\n", len(r.Worst))
	for i, d := range r.Worst {
		fmt.Fprintf(w, "  %2d. %d\n", i+1, d.Nanoseconds())
	}
}

// PrintResultsTable prints one row per result.
func PrintResultsTable(w io.Writer, results []*model.Result, cs *ColorScheme) error {
	if cs == nil {
		cs = NoColorScheme()
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tBENCHMARK\tKIND\tCONNS\tREQUESTS\tELAPSED\tRATE [req/s]\tMEDIAN\tQ 0.99\tMAX")

	for _, r := range results {
		median, q99, slowest := "-", "-", "-"
		if r.Latency != nil {
			median = formatDurationShort(r.Latency.Median)
			q99 = formatDurationShort(r.Latency.Q99)
			slowest = formatDurationShort(r.Latency.Max)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Server,
			r.Benchmark,
			r.Kind,
			r.Workers*r.Conns,
			formatNumber(int64(r.Requests)),
			fmt.Sprintf("%.2fs", r.Elapsed.Seconds()),
			fmt.Sprintf("%.2f", r.Rate),
			median, q99, slowest)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if best := fastest(results); best != nil {
		fmt.Fprintf(w, "\n%s %s on %s (%s req/s)\n",
			cs.Highlight.Sprint("Highest rate:"), best.Benchmark, best.Server, cs.Rate.Sprintf("%.2f", best.Rate))
	}
	return nil
}

func fastest(results []*model.Result) *model.Result {
	var best *model.Result
	for _, r := range results {
		if best == nil || r.Rate > best.Rate {
			best = r
		}
	}
	return best
}

// WriteResults writes results in the given format.
func WriteResults(w io.Writer, format Format, results []*model.Result, cs *ColorScheme) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return err
		}
		return enc.Close()
	case FormatHTML:
		title := "async-bench"
		if len(results) > 0 && results[0].Suite != "" {
			title = results[0].Suite
		}
		return WriteHTML(w, title, results)
	default:
		return PrintResultsTable(w, results, cs)
	}
}
