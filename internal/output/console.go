// Package output renders benchmark progress and results for humans.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/patrykstefanski/async-bench/internal/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const ruleWidth = 56

// Console manages live console output during a run.
type Console struct {
	writer         io.Writer
	updateInterval time.Duration
	isTTY          bool
	quiet          bool
	colors         *ColorScheme

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer         io.Writer
	UpdateInterval time.Duration
	Quiet          bool
	ForceColors    bool
	NoColor        bool
	ForceTTY       bool
}

// NewConsole creates a console. Without a TTY progress is printed one line
// per update; in quiet mode it is not printed at all.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = time.Second
	}

	isTTY := config.ForceTTY || IsTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && SupportsColors()))

	return &Console{
		writer:         config.Writer,
		updateInterval: config.UpdateInterval,
		isTTY:          isTTY,
		quiet:          config.Quiet,
		colors:         SchemeFor(useColors),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// Colors returns the color scheme in use.
func (c *Console) Colors() *ColorScheme {
	return c.colors
}

// Writer returns the underlying writer.
func (c *Console) Writer() io.Writer {
	return c.writer
}

// PrintHeader prints a title between two rules.
func (c *Console) PrintHeader(title string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat("━", ruleWidth)
	fmt.Fprintln(c.writer, c.colors.Dim.Sprint(line))
	fmt.Fprintln(c.writer, c.colors.Title.Sprint(title))
	fmt.Fprintln(c.writer, c.colors.Dim.Sprint(line))
}

// Update redraws the live display in place. It does nothing without a TTY.
func (c *Console) Update(snap *metrics.Snapshot) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked()
	lines := c.renderLive(snap)
	for _, line := range lines {
		fmt.Fprintln(c.writer, line)
	}
	c.linesOutput = len(lines)
}

// PrintNonInteractiveUpdate prints a one-line status.
// Used when output is not a TTY (e.g., piped to a file or CI/CD).
func (c *Console) PrintNonInteractiveUpdate(snap *metrics.Snapshot) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "[%s] %s | Conns: %d | Reqs: %d | RPS: %.1f | Errors: %d | P99: %s\n",
		formatDuration(snap.Elapsed),
		snap.CurrentPhase,
		snap.ActiveConns,
		snap.TotalRequests,
		snap.CurrentRPS,
		snap.FailedRequests,
		formatDurationShort(snap.Latency.P99))
}

// Clear removes the live display.
func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Console) clearLocked() {
	if !c.isTTY || c.linesOutput == 0 {
		return
	}
	fmt.Fprintf(c.writer, cursorUp, c.linesOutput)
	for i := 0; i < c.linesOutput; i++ {
		fmt.Fprint(c.writer, clearLine+"\n")
	}
	fmt.Fprintf(c.writer, cursorUp, c.linesOutput)
	c.linesOutput = 0
}

func (c *Console) renderLive(snap *metrics.Snapshot) []string {
	cs := c.colors
	return []string{
		fmt.Sprintf("%s %s  %s %s",
			cs.Label.Sprint("Phase:"), cs.Phase.Sprint(snap.CurrentPhase),
			cs.Label.Sprint("Elapsed:"), cs.Dim.Sprint(formatDuration(snap.Elapsed))),
		fmt.Sprintf("%s %s  %s %s  %s %s",
			cs.Label.Sprint("Conns:"), cs.Value.Sprint(snap.ActiveConns),
			cs.Label.Sprint("Requests:"), cs.Value.Sprint(formatNumber(snap.TotalRequests)),
			cs.Label.Sprint("RPS:"), cs.Rate.Sprintf("%.1f", snap.CurrentRPS)),
		fmt.Sprintf("%s %s  %s %s  %s %s",
			cs.Label.Sprint("P50:"), cs.Latency.Sprint(formatDurationShort(snap.Latency.P50)),
			cs.Label.Sprint("P99:"), cs.Latency.Sprint(formatDurationShort(snap.Latency.P99)),
			cs.Label.Sprint("Max:"), cs.Latency.Sprint(formatDurationShort(snap.Latency.Max))),
	}
}

// Watch shows progress from source every update interval until the returned
// function is called. The stop function clears the live display.
func (c *Console) Watch(ctx context.Context, source func() *metrics.Snapshot) (stop func()) {
	if c.quiet {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.updateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := source()
				if c.isTTY {
					c.Update(snap)
				} else {
					c.PrintNonInteractiveUpdate(snap)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
		c.Clear()
	}
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	switch {
	case d <= 0:
		return "0µs"
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d)/float64(time.Microsecond))
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}

	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
