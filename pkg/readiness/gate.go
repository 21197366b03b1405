// Package readiness implements the pre-dispatch gate that blocks until every
// proxy endpoint in a set accepts a connection. Freshly provisioned proxy
// hosts refuse connections until their bootstrap finishes, so probe failures
// are the expected state and are retried silently.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/swarmdev/proxyswarm/pkg/swarm"
)

// Prometheus metrics for readiness probing.
var (
	readinessProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_readiness_probes_total",
		Help: "Total readiness probes by result",
	}, []string{"result"})

	readinessWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_readiness_wait_seconds",
		Help:    "Time spent waiting for the full endpoint set to become ready",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

// ErrReadinessTimeout is returned when MaxWait elapses before every endpoint
// has answered a probe.
var ErrReadinessTimeout = errors.New("readiness wait exceeded")

// ProbeFunc checks a single endpoint and returns nil once it is reachable.
type ProbeFunc func(ctx context.Context, ep swarm.Endpoint) error

// Config controls gate behavior.
type Config struct {
	// Interval is the sleep between full passes over the endpoint set.
	Interval time.Duration

	// MaxWait bounds the total wait. Zero means wait forever, matching the
	// historical behavior of swarm bootstrap scripts; set it in anything
	// unattended so a dead host surfaces as ErrReadinessTimeout instead of
	// a livelock.
	MaxWait time.Duration

	// Probe overrides the endpoint check. Defaults to an HTTP GET against
	// the endpoint's own listener.
	Probe ProbeFunc

	Logger zerolog.Logger
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 1000 * time.Millisecond,
	}
}

// Gate blocks callers until a set of proxy endpoints is reachable.
type Gate struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a gate. Zero-value config fields are filled with defaults.
func New(cfg Config) *Gate {
	if cfg.Interval <= 0 {
		cfg.Interval = 1000 * time.Millisecond
	}
	if cfg.Probe == nil {
		cfg.Probe = HTTPProbe
	}
	return &Gate{cfg: cfg, logger: cfg.Logger}
}

// HTTPProbe is the default probe: a GET against the endpoint's own listener
// using the default client. Any response, whatever its status, proves the
// listener is up; proxies commonly answer a bare GET with 400.
func HTTPProbe(ctx context.Context, ep swarm.Endpoint) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s", ep.Addr()), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Wait blocks until every endpoint has answered at least one successful
// probe. Between passes over the not-yet-ready remainder it sleeps the
// configured interval. It returns ErrReadinessTimeout if MaxWait elapses
// first, or the context error if ctx is cancelled.
func (g *Gate) Wait(ctx context.Context, endpoints []swarm.Endpoint) error {
	if len(endpoints) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		readinessWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	var deadline <-chan time.Time
	if g.cfg.MaxWait > 0 {
		timer := time.NewTimer(g.cfg.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	ready := make([]bool, len(endpoints))
	remaining := len(endpoints)

	for {
		for i, ep := range endpoints {
			if ready[i] {
				continue
			}
			if err := g.cfg.Probe(ctx, ep); err != nil {
				// Connection refused is the expected pre-ready state.
				readinessProbesTotal.WithLabelValues("unready").Inc()
				continue
			}
			readinessProbesTotal.WithLabelValues("ready").Inc()
			ready[i] = true
			remaining--
			g.logger.Info().
				Str("endpoint", ep.Addr()).
				Int("remaining", remaining).
				Msg("Proxy endpoint ready")
		}

		if remaining == 0 {
			g.logger.Info().
				Int("endpoints", len(endpoints)).
				Dur("waited", time.Since(start)).
				Msg("All proxy endpoints ready")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w after %v: still waiting for %s",
				ErrReadinessTimeout, g.cfg.MaxWait, pendingList(endpoints, ready))
		case <-time.After(g.cfg.Interval):
		}
	}
}

// pendingList names the endpoints that never answered, for the timeout error.
func pendingList(endpoints []swarm.Endpoint, ready []bool) string {
	var pending []string
	for i, ep := range endpoints {
		if !ready[i] {
			pending = append(pending, ep.Addr())
		}
	}
	return strings.Join(pending, ", ")
}
