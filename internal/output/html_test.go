package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, "nightly <run>", testResults()); err != nil {
		t.Fatalf("WriteHTML() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>nightly &lt;run&gt; - Benchmark Results</title>",
		"2 results",
		"<strong>lat</strong> on <strong>reactor</strong>",
		"<td>goroutine</td>",
		"<td class=\"num\">2,000</td>",
		"<td class=\"num\">20</td>",
		"<td class=\"num\">40.0µs</td>",
		"width: 100.0%",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
}

func TestWriteHTMLEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, "empty", nil); err != nil {
		t.Fatalf("WriteHTML() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "No results.") {
		t.Error("empty report should say so")
	}
	if strings.Contains(out, "Highest rate") {
		t.Error("empty report should not name a fastest result")
	}
}

func TestWriteResultsHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, FormatHTML, testResults(), nil); err != nil {
		t.Fatalf("WriteResults() error = %v", err)
	}
	if !strings.Contains(buf.String(), "<h1>s</h1>") {
		t.Errorf("HTML title should be the suite name")
	}
}
