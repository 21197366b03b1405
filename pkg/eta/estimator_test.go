package eta

import (
	"math"
	"testing"
	"time"
)

// fixedEstimator returns an estimator whose clock is pinned to base, so item
// durations can be controlled exactly via itemStart.
func fixedEstimator(t *testing.T, alpha float64, total int, base time.Time) *Estimator {
	t.Helper()
	e := New(alpha, total)
	e.startTime = base
	e.now = func() time.Time { return base }
	return e
}

func TestEstimator_EMARecursion(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alpha := 0.18
	durations := []time.Duration{
		1200 * time.Millisecond,
		800 * time.Millisecond,
		2500 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}

	e := fixedEstimator(t, alpha, len(durations), base)

	var want float64
	for i, d := range durations {
		e.Tick(base.Add(-d), 1)

		if i == 0 {
			want = float64(d)
		} else {
			want = alpha*float64(d) + (1-alpha)*want
		}

		got := float64(e.EMA())
		// Integer nanosecond truncation accumulates; allow a tiny slack.
		if math.Abs(got-want) > float64(len(durations)) {
			t.Fatalf("ema after %d samples = %v, want %v", i+1, got, want)
		}
		if e.Processed() != i+1 {
			t.Fatalf("processed after %d samples = %d", i+1, e.Processed())
		}
	}
}

func TestEstimator_FirstSampleSeedsEMA(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := fixedEstimator(t, DefaultAlpha, 10, base)

	e.Tick(base.Add(-2*time.Second), 1)

	if e.EMA() != 2*time.Second {
		t.Errorf("ema = %v, want 2s", e.EMA())
	}
}

func TestEstimator_ETAFormatting(t *testing.T) {
	// EMA 2000ms, 10 items remaining, 5 in parallel -> projected 4000ms.
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := fixedEstimator(t, DefaultAlpha, 11, base)

	p := e.Tick(base.Add(-2000*time.Millisecond), 5)

	if p.ETA != "000:00:00:04" {
		t.Errorf("eta = %q, want %q", p.ETA, "000:00:00:04")
	}
}

func TestEstimator_RemainingFormatting(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := fixedEstimator(t, DefaultAlpha, 100, base)

	var p Progress
	for i := 0; i < 7; i++ {
		p = e.Tick(base.Add(-time.Second), 1)
	}

	if p.Remaining != "  7/100" {
		t.Errorf("remaining = %q, want %q", p.Remaining, "  7/100")
	}
}

func TestEstimator_ProcessedNeverExceedsTotal(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := fixedEstimator(t, DefaultAlpha, 2, base)

	for i := 0; i < 5; i++ {
		e.Tick(base.Add(-time.Second), 1)
	}

	if e.Processed() != 2 {
		t.Errorf("processed = %d, want 2", e.Processed())
	}
}

func TestEstimator_InvalidAlphaFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		alpha float64
	}{
		{"zero", 0},
		{"negative", -0.5},
		{"above one", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.alpha, 10)
			if e.alpha != DefaultAlpha {
				t.Errorf("alpha = %v, want %v", e.alpha, DefaultAlpha)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"zero", 0, "000:00:00:00"},
		{"four seconds", 4 * time.Second, "000:00:00:04"},
		{"one minute", 61 * time.Second, "000:00:01:01"},
		{"hours", 3*time.Hour + 25*time.Minute + 9*time.Second, "000:03:25:09"},
		{"days", 49*time.Hour + 30*time.Second, "002:01:00:30"},
		{"negative clamps", -5 * time.Second, "000:00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.d); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestEstimator_ProjectedWithoutSample(t *testing.T) {
	e := New(DefaultAlpha, 10)
	if got := e.Projected(5); got != 0 {
		t.Errorf("projected with no samples = %v, want 0", got)
	}
}
