package progress

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Display handles the console progress display.
type Display struct {
	tracker   *Tracker
	interval  time.Duration
	stopCh    chan struct{}
	lastLines int
}

// NewDisplay creates a new progress display.
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the progress display.
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the progress display.
func (d *Display) Stop() {
	close(d.stopCh)
}

func (d *Display) displayLoop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.updateDisplay()
		case <-d.stopCh:
			d.finalDisplay()
			return
		}
	}
}

func (d *Display) updateDisplay() {
	status := d.tracker.GetStatus()
	lines := d.generateDisplay(status)

	d.clearLines()
	fmt.Print(strings.Join(lines, "\n"))
	d.lastLines = len(lines)
}

func (d *Display) finalDisplay() {
	d.clearLines()
	status := d.tracker.GetStatus()
	lines := d.generateFinalDisplay(status)
	fmt.Println(strings.Join(lines, "\n"))
}

func (d *Display) clearLines() {
	if d.lastLines > 0 {
		fmt.Print("\n")
	}
}

func (d *Display) generateDisplay(status Status) []string {
	lines := make([]string, 0)

	lines = append(lines, "")
	lines = append(lines, "duplication progress")
	lines = append(lines, "="+strings.Repeat("=", 50))

	taskProgress := d.tracker.GetProgressPercent()
	lines = append(lines, fmt.Sprintf("tasks: %d/%d (%.1f%%)",
		status.ProcessedTasks, status.TotalTasks, taskProgress))
	lines = append(lines, fmt.Sprintf("    %s", d.generateProgressBar(taskProgress, 40)))

	bytesProgress := d.tracker.GetBytesProgressPercent()
	lines = append(lines, fmt.Sprintf("bytes: %s/%s (%.1f%%)",
		FormatBytes(status.ProcessedBytes), FormatBytes(status.TotalBytes), bytesProgress))
	lines = append(lines, fmt.Sprintf("    %s", d.generateProgressBar(bytesProgress, 40)))

	lines = append(lines, "")
	lines = append(lines, "counts:")
	lines = append(lines, fmt.Sprintf("  success: %d", status.SuccessTasks))
	lines = append(lines, fmt.Sprintf("  failed:  %d", status.FailedTasks))

	lines = append(lines, "")
	lines = append(lines, "speed:")
	lines = append(lines, fmt.Sprintf("  current: %s", FormatSpeed(status.CurrentSpeed)))
	lines = append(lines, fmt.Sprintf("  average: %s", FormatSpeed(status.AverageSpeed)))

	elapsed := time.Since(status.StartTime)
	lines = append(lines, "")
	lines = append(lines, "time:")
	lines = append(lines, fmt.Sprintf("  elapsed: %s", FormatDuration(elapsed)))
	lines = append(lines, fmt.Sprintf("  eta:     %s", FormatDuration(status.ETA)))

	if status.ETA > 0 {
		lines = append(lines, fmt.Sprintf("  finish:  %s", time.Now().Add(status.ETA).Format("15:04:05")))
	}

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("last update: %s", status.LastUpdateTime.Format("15:04:05")))
	lines = append(lines, "")

	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	lines := make([]string, 0)
	elapsed := time.Since(status.StartTime)

	lines = append(lines, "")
	lines = append(lines, "duplication run complete")
	lines = append(lines, "="+strings.Repeat("=", 50))
	lines = append(lines, fmt.Sprintf("processed: %d tasks", status.ProcessedTasks))
	lines = append(lines, fmt.Sprintf("data:      %s", FormatBytes(status.ProcessedBytes)))
	lines = append(lines, fmt.Sprintf("success:   %d", status.SuccessTasks))
	lines = append(lines, fmt.Sprintf("failed:    %d", status.FailedTasks))
	lines = append(lines, fmt.Sprintf("elapsed:   %s", FormatDuration(elapsed)))
	lines = append(lines, fmt.Sprintf("avg speed: %s", FormatSpeed(status.AverageSpeed)))
	lines = append(lines, "")

	return lines
}

func (d *Display) generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported reports whether stdout is a terminal.
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
