package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Console prints conversion progress for the operator. Messages go to out;
// the optional stage bar renders on its own writer so tool output on
// stdout does not tear it.
type Console struct {
	out       io.Writer
	bar       *progressbar.ProgressBar
	startTime time.Time
}

// NewConsole creates a console writing messages to out
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:       out,
		startTime: time.Now(),
	}
}

// WithStageBar adds a progress bar over the given number of stages
func (c *Console) WithStageBar(w io.Writer, stages int) *Console {
	c.bar = progressbar.NewOptions(
		stages,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Converting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return c
}

// Step prints a progress message such as "Simplifying ..."
func (c *Console) Step(msg string) {
	fmt.Fprintln(c.out, msg)
}

// Printf prints a formatted message
func (c *Console) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

// StageStarted moves the stage bar to the named stage
func (c *Console) StageStarted(name string) {
	if c.bar == nil {
		return
	}
	c.bar.Describe(name)
}

// StageDone advances the stage bar
func (c *Console) StageDone() {
	if c.bar == nil {
		return
	}
	c.bar.Add(1)
}

// Done reports success
func (c *Console) Done() {
	c.finish()
	fmt.Fprintln(c.out, "Done.")
}

// Failed reports failure
func (c *Console) Failed() {
	c.finish()
	fmt.Fprintln(c.out, "Failed.")
}

// Elapsed returns the time since the console was created
func (c *Console) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (c *Console) finish() {
	if c.bar == nil {
		return
	}
	c.bar.Exit()
	c.bar = nil
}

// FormatBytes formats bytes into human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration into human readable format
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
