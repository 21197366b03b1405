// Package eta implements an exponentially smoothed running estimate of
// per-item latency and the completion projection derived from it.
package eta

import (
	"fmt"
	"sync"
	"time"
)

// DefaultAlpha is the default smoothing factor. Recent samples dominate the
// average while history decays geometrically.
const DefaultAlpha = 0.18

// Progress is the formatted snapshot returned by Tick.
type Progress struct {
	// Elapsed is the wall-clock time since the estimator was created,
	// formatted as ddd:hh:mm:ss.
	Elapsed string

	// ETA is the projected remaining wall-clock time, formatted as
	// ddd:hh:mm:ss. The projection assumes the current degree of
	// parallelism continues.
	ETA string

	// Remaining is "processed/total" with processed left-padded to the
	// digit width of total.
	Remaining string
}

// Estimator tracks a smoothed per-item latency and projects the time left
// for a fixed-size batch. All mutation goes through Tick, which is safe for
// concurrent use.
type Estimator struct {
	mu        sync.Mutex
	alpha     float64
	ema       time.Duration
	startTime time.Time
	total     int
	processed int

	// now is replaceable for tests.
	now func() time.Time
}

// New creates an estimator for a batch of total items. The start timestamp
// is captured here. An alpha outside (0, 1] falls back to DefaultAlpha.
func New(alpha float64, total int) *Estimator {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Estimator{
		alpha:     alpha,
		startTime: time.Now(),
		total:     total,
		now:       time.Now,
	}
}

// Tick records the completion of one item that started at itemStart and
// returns the updated progress snapshot. scale is the number of items being
// processed in parallel; the projection divides the serial remainder by it.
// Call exactly once per completed item.
func (e *Estimator) Tick(itemStart time.Time, scale int) Progress {
	if scale <= 0 {
		scale = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	if e.processed < e.total {
		e.processed++
	}

	duration := now.Sub(itemStart)
	if duration < 0 {
		duration = 0
	}

	// First sample seeds the average directly.
	if e.ema == 0 {
		e.ema = duration
	} else {
		e.ema = time.Duration(e.alpha*float64(duration) + (1-e.alpha)*float64(e.ema))
	}

	remaining := e.total - e.processed
	projected := time.Duration(float64(e.ema) * float64(remaining) / float64(scale))

	return Progress{
		Elapsed:   FormatDuration(now.Sub(e.startTime)),
		ETA:       FormatDuration(projected),
		Remaining: formatRemaining(e.processed, e.total),
	}
}

// EMA returns the current smoothed per-item latency. Zero means no samples
// have been recorded yet.
func (e *Estimator) EMA() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ema
}

// Processed returns the number of items recorded so far.
func (e *Estimator) Processed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed
}

// Projected returns the current raw ETA for the given parallelism without
// recording a sample.
func (e *Estimator) Projected(scale int) time.Duration {
	if scale <= 0 {
		scale = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	remaining := e.total - e.processed
	return time.Duration(float64(e.ema) * float64(remaining) / float64(scale))
}

// FormatDuration renders d as ddd:hh:mm:ss with a three-digit day field and
// two-digit fields for the rest. Negative durations are clamped to zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60
	secs = secs % 60
	return fmt.Sprintf("%03d:%02d:%02d:%02d", days, hours, mins, secs)
}

// formatRemaining renders "processed/total" with processed left-padded to
// the digit width of total, so successive lines stay column-aligned.
func formatRemaining(processed, total int) string {
	width := len(fmt.Sprintf("%d", total))
	return fmt.Sprintf("%*d/%d", width, processed, total)
}
