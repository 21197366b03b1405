package swarm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/swarmdev/proxyswarm/pkg/eta"
)

// Prometheus metrics for dispatch operations.
var (
	swarmItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_items_total",
		Help: "Total dispatched work items by outcome",
	}, []string{"outcome"})

	swarmItemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_item_duration_seconds",
		Help:    "Per-item wall-clock duration including handler time",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	swarmWavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swarm_waves_total",
		Help: "Total dispatched waves",
	})

	swarmInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_inflight_items",
		Help: "Work items currently in flight",
	})

	swarmETASeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_eta_seconds",
		Help: "Projected seconds until batch completion at current parallelism",
	})
)

// Handler consumes a successful response. Returning an error marks the item
// as failed. The handler owns reading the body; the dispatcher closes it.
type Handler func(resp *http.Response) error

// ErrorHandler receives the item and cause for every failed item.
type ErrorHandler func(item string, err error)

// Outcome is the per-item result of a run. Err == nil means success.
type Outcome struct {
	Item     string
	Proxy    string
	Duration time.Duration
	Err      error
}

// Result summarizes one run.
type Result struct {
	Items     int
	Succeeded int
	Failed    int
	// Skipped counts items never dispatched because the run context was
	// cancelled between waves.
	Skipped  int
	Duration time.Duration
}

// Config holds dispatcher configuration.
type Config struct {
	// Endpoints is the ordered proxy set. Order determines wave-slot
	// assignment and must not change for the lifetime of the dispatcher.
	Endpoints []Endpoint

	// RequestTimeout is the absolute per-item deadline. The in-flight
	// request is aborted when it is exceeded.
	RequestTimeout time.Duration

	// Alpha is the ETA smoothing factor (see eta.DefaultAlpha).
	Alpha float64

	// Headers is the outbound header profile applied to every request.
	// Defaults to BrowserHeaders(). The dispatcher keeps its own copy.
	Headers http.Header

	// PerProxyRate caps the request launch rate per endpoint. Zero means
	// unlimited.
	PerProxyRate rate.Limit

	// Transport overrides per-endpoint transport construction. Used by
	// tests; defaults to the proxy transport for the endpoint's scheme.
	Transport func(Endpoint) (http.RoundTripper, error)

	Logger zerolog.Logger
}

// DefaultConfig returns a safe default configuration for the given
// endpoint set.
func DefaultConfig(endpoints []Endpoint) Config {
	return Config{
		Endpoints:      endpoints,
		RequestTimeout: 5000 * time.Millisecond,
		Alpha:          eta.DefaultAlpha,
	}
}

// Dispatcher executes ordered batches of URL fetches across its proxy set.
// One dispatcher may serve many runs; per-run state lives in the run itself.
type Dispatcher struct {
	endpoints []Endpoint
	clients   []*http.Client
	limiters  []*rate.Limiter
	headers   http.Header
	cfg       Config
	logger    zerolog.Logger
}

// New creates a dispatcher. It builds one connection configuration per
// endpoint up front, so a bad endpoint surfaces here instead of mid-run.
func New(cfg Config) (*Dispatcher, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5000 * time.Millisecond
	}
	if cfg.Headers == nil {
		cfg.Headers = BrowserHeaders()
	}

	buildTransport := cfg.Transport
	if buildTransport == nil {
		buildTransport = func(ep Endpoint) (http.RoundTripper, error) {
			return transportFor(ep, cfg.RequestTimeout)
		}
	}

	clients := make([]*http.Client, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		rt, err := buildTransport(ep)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Addr(), err)
		}
		// No client timeout here: each item carries its own context
		// deadline so siblings are never affected.
		clients[i] = &http.Client{Transport: rt}
	}

	var limiters []*rate.Limiter
	if cfg.PerProxyRate > 0 {
		limiters = make([]*rate.Limiter, len(cfg.Endpoints))
		for i := range limiters {
			limiters[i] = rate.NewLimiter(cfg.PerProxyRate, 1)
		}
	}

	return &Dispatcher{
		endpoints: append([]Endpoint(nil), cfg.Endpoints...),
		clients:   clients,
		limiters:  limiters,
		headers:   cloneHeader(cfg.Headers),
		cfg:       cfg,
		logger:    cfg.Logger,
	}, nil
}

// Endpoints returns the number of configured proxy endpoints.
func (d *Dispatcher) Endpoints() int {
	return len(d.endpoints)
}

// Run executes items in waves of size equal to the proxy count, preserving
// input order. The i-th item of each wave goes through the i-th proxy.
// A wave must settle completely before the next one starts; a single slow
// item therefore delays the following wave up to the request timeout.
//
// Every item results in exactly one handler or errorHandler invocation.
// Item failures never abort the run. Cancelling ctx finishes the current
// wave and skips the rest.
func (d *Dispatcher) Run(ctx context.Context, items []string, handler Handler, errorHandler ErrorHandler) (Result, []Outcome, error) {
	est := eta.New(d.cfg.Alpha, len(items))
	outcomes := make([]Outcome, len(items))
	n := len(d.endpoints)
	start := time.Now()

	d.logger.Info().
		Int("items", len(items)).
		Int("proxies", n).
		Msg("Dispatch started")

	settled := 0
	for waveStart := 0; waveStart < len(items); waveStart += n {
		if ctx.Err() != nil {
			break
		}

		waveEnd := waveStart + n
		if waveEnd > len(items) {
			waveEnd = len(items)
		}
		wave := items[waveStart:waveEnd]
		swarmWavesTotal.Inc()

		var wg sync.WaitGroup
		for slot, item := range wave {
			wg.Add(1)
			go func(idx, slot int, item string) {
				defer wg.Done()
				outcomes[idx] = d.dispatch(ctx, item, slot, n, est, handler, errorHandler)
			}(waveStart+slot, slot, item)
		}
		wg.Wait()
		settled = waveEnd
	}

	res := d.finish(ctx, items, outcomes, settled, start)
	if ctx.Err() != nil && settled < len(items) {
		return res, outcomes, ctx.Err()
	}
	return res, outcomes, nil
}

// RunPooled executes items with one persistent worker per proxy, each
// pulling the next item as soon as it is free. Per-item routing, timeout,
// and progress semantics match Run; there is no wave barrier, so a slow
// item never holds back an idle proxy. Completion order across proxies is
// unspecified.
func (d *Dispatcher) RunPooled(ctx context.Context, items []string, handler Handler, errorHandler ErrorHandler) (Result, []Outcome, error) {
	est := eta.New(d.cfg.Alpha, len(items))
	outcomes := make([]Outcome, len(items))
	n := len(d.endpoints)
	start := time.Now()

	d.logger.Info().
		Int("items", len(items)).
		Int("proxies", n).
		Msg("Pooled dispatch started")

	type indexed struct {
		idx  int
		item string
	}

	queue := make(chan indexed)
	var fed int
	var fedMu sync.Mutex

	go func() {
		defer close(queue)
		for i, item := range items {
			select {
			case queue <- indexed{idx: i, item: item}:
				fedMu.Lock()
				fed = i + 1
				fedMu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for slot := 0; slot < n; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for it := range queue {
				outcomes[it.idx] = d.dispatch(ctx, it.item, slot, n, est, handler, errorHandler)
			}
		}(slot)
	}
	wg.Wait()

	fedMu.Lock()
	settled := fed
	fedMu.Unlock()

	res := d.finish(ctx, items, outcomes, settled, start)
	if ctx.Err() != nil && settled < len(items) {
		return res, outcomes, ctx.Err()
	}
	return res, outcomes, nil
}

// dispatch executes a single item through the proxy at the given slot and
// records its outcome with the estimator.
func (d *Dispatcher) dispatch(ctx context.Context, item string, slot, scale int, est *eta.Estimator, handler Handler, errorHandler ErrorHandler) Outcome {
	ep := d.endpoints[slot]

	if d.limiters != nil {
		if err := d.limiters[slot].Wait(ctx); err != nil {
			return d.settle(item, ep, 0, est, time.Now(), scale, err, errorHandler)
		}
	}

	start := time.Now()
	swarmInflight.Inc()
	defer swarmInflight.Dec()

	err := d.fetch(ctx, item, slot, handler)
	duration := time.Since(start)

	return d.settle(item, ep, duration, est, start, scale, err, errorHandler)
}

// fetch performs the proxied request under the per-item deadline and runs
// the caller's handler on the response.
func (d *Dispatcher) fetch(ctx context.Context, item string, slot int, handler Handler) error {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, item, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	applyHeaders(req, d.headers)

	resp, err := d.clients[slot].Do(req)
	if err != nil {
		return fmt.Errorf("request via %s: %w", d.endpoints[slot].Addr(), err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if handler != nil {
		if err := handler(resp); err != nil {
			return &HandlerError{Item: item, Err: err}
		}
	}
	return nil
}

// settle records one item's outcome: estimator tick, metrics, and the
// per-item progress line.
func (d *Dispatcher) settle(item string, ep Endpoint, duration time.Duration, est *eta.Estimator, start time.Time, scale int, err error, errorHandler ErrorHandler) Outcome {
	progress := est.Tick(start, scale)
	swarmItemDuration.Observe(duration.Seconds())
	swarmETASeconds.Set(est.Projected(scale).Seconds())

	if err != nil {
		swarmItemsTotal.WithLabelValues(string(classifyError(err))).Inc()
		if errorHandler != nil {
			errorHandler(item, err)
		}
		d.logger.Warn().
			Str("item", truncateItem(item)).
			Str("elapsed", progress.Elapsed).
			Str("eta", progress.ETA).
			Str("remaining", progress.Remaining).
			Str("proxy", ep.Addr()).
			Err(err).
			Msg("Item failed")
	} else {
		swarmItemsTotal.WithLabelValues("success").Inc()
		d.logger.Info().
			Str("item", truncateItem(item)).
			Str("elapsed", progress.Elapsed).
			Str("eta", progress.ETA).
			Str("remaining", progress.Remaining).
			Str("proxy", ep.Addr()).
			Msg("Item done")
	}

	return Outcome{Item: item, Proxy: ep.Addr(), Duration: duration, Err: err}
}

// finish marks undispatched items as skipped and emits the completion
// notice.
func (d *Dispatcher) finish(ctx context.Context, items []string, outcomes []Outcome, settled int, start time.Time) Result {
	res := Result{Items: len(items), Duration: time.Since(start)}

	for i := settled; i < len(items); i++ {
		outcomes[i] = Outcome{Item: items[i], Err: ctx.Err()}
	}
	res.Skipped = len(items) - settled

	for _, o := range outcomes[:settled] {
		if o.Err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}

	d.logger.Info().
		Int("items", res.Items).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Dur("duration", res.Duration).
		Msg("Dispatch complete")

	return res
}

// truncateItem keeps progress lines readable for very long URLs.
func truncateItem(item string) string {
	const max = 80
	if len(item) <= max {
		return item
	}
	return item[:max-3] + "..."
}
