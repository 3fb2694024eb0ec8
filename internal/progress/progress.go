package progress

import (
	"fmt"
	"io"
	"os"
	"time"
)

// ProgressBar tracks a running test suite: total tests, how many have
// finished, and the status of the most recently finished one.
type ProgressBar struct {
	total       int64
	current     int64
	startTime   time.Time
	lastUpdate  time.Time
	output      io.Writer
	enabled     bool
	description string
	lastStatus  string
}

// NewProgressBar creates a new progress bar
func NewProgressBar(total int64, description string) *ProgressBar {
	return &ProgressBar{
		total:       total,
		current:     0,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		output:      os.Stderr, // Use stderr so it doesn't interfere with stdout
		enabled:     true,
		description: description,
	}
}

// Disable disables the progress bar
func (p *ProgressBar) Disable() {
	p.enabled = false
}

// Enable enables the progress bar
func (p *ProgressBar) Enable() {
	p.enabled = true
}

// Update updates the progress bar
func (p *ProgressBar) Update(n int64) {
	p.current += n
	p.render()
}

// Set sets the current progress
func (p *ProgressBar) Set(n int64) {
	p.current = n
	p.render()
}

// Increment records one finished test, tagged with its result status
// (passed, failed, setup-error, cancelled), and advances the bar by 1.
func (p *ProgressBar) Increment(status string) {
	p.current++
	p.lastStatus = status
	p.render()
}

// render renders the progress bar
func (p *ProgressBar) render() {
	if !p.enabled {
		return
	}

	// Throttle updates to avoid too much output
	now := time.Now()
	if now.Sub(p.lastUpdate) < 100*time.Millisecond && p.current < p.total {
		return
	}
	p.lastUpdate = now

	// Calculate percentage
	var percent float64
	if p.total > 0 {
		percent = float64(p.current) / float64(p.total) * 100
	} else {
		percent = 0
	}

	// Calculate elapsed time
	elapsed := time.Since(p.startTime)

	// Calculate ETA
	var eta time.Duration
	if p.current > 0 && p.total > 0 {
		rate := float64(p.current) / elapsed.Seconds()
		if rate > 0 {
			remaining := float64(p.total-p.current) / rate
			eta = time.Duration(remaining) * time.Second
		}
	}

	// Build progress bar (50 characters wide)
	barWidth := 50
	filled := int(float64(barWidth) * percent / 100)
	if filled > barWidth {
		filled = barWidth
	}

	bar := make([]byte, barWidth)
	for i := 0; i < filled; i++ {
		bar[i] = '='
	}
	if filled < barWidth {
		bar[filled] = '>'
		for i := filled + 1; i < barWidth; i++ {
			bar[i] = '-'
		}
	}

	// Format output
	var output string
	if p.description != "" {
		output = fmt.Sprintf("\r%s [%s] %d/%d (%.1f%%) | Elapsed: %s", p.description, string(bar), p.current, p.total, percent, formatDuration(elapsed))
	} else {
		output = fmt.Sprintf("\r[%s] %d/%d (%.1f%%) | Elapsed: %s", string(bar), p.current, p.total, percent, formatDuration(elapsed))
	}

	if eta > 0 && p.current < p.total {
		output += fmt.Sprintf(" | ETA: %s", formatDuration(eta))
	}
	if p.lastStatus != "" {
		output += fmt.Sprintf(" | last: %s", p.lastStatus)
	}

	fmt.Fprint(p.output, output)
}

// Finish finishes the progress bar
func (p *ProgressBar) Finish() {
	if !p.enabled {
		return
	}

	p.current = p.total
	p.render()
	fmt.Fprint(p.output, "\n") // New line after completion
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}
