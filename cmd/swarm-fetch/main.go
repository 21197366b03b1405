// Command swarm-fetch runs a batch of URL fetches through a proxy fleet:
// it loads the fleet from the environment or Redis, waits for every proxy
// to become reachable, then dispatches the URL list and reports progress.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/swarmdev/proxyswarm/pkg/logging"
	"github.com/swarmdev/proxyswarm/pkg/readiness"
	"github.com/swarmdev/proxyswarm/pkg/source"
	"github.com/swarmdev/proxyswarm/pkg/swarm"
)

func main() {
	// Optional .env file; real environment wins.
	_ = godotenv.Load()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "false") == "true",
		Output: os.Stderr,
	})

	urlsFile := getEnv("URLS_FILE", "")
	if urlsFile == "" {
		logger.Fatal().Msg("URLS_FILE is required")
	}
	items, err := loadItems(urlsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load URL list")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	endpoints, err := loadEndpoints(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load proxy fleet")
	}
	logger.Info().Int("proxies", len(endpoints)).Int("urls", len(items)).Msg("Configuration loaded")

	// Metrics endpoint
	metricsAddr := getEnv("METRICS_ADDR", ":9090")
	go serveMetrics(metricsAddr, logger)

	// Wait for the fleet to come up before dispatching anything.
	gate := readiness.New(readiness.Config{
		Interval: getDurationMs("READINESS_INTERVAL_MS", 1000),
		MaxWait:  getDurationMs("READINESS_MAX_WAIT_MS", 0),
		Logger:   logging.NewLogger("readiness"),
	})
	if err := gate.Wait(ctx, endpoints); err != nil {
		logger.Fatal().Err(err).Msg("Proxy fleet never became ready")
	}

	cfg := swarm.DefaultConfig(endpoints)
	cfg.RequestTimeout = getDurationMs("REQUEST_TIMEOUT_MS", 5000)
	cfg.Logger = logging.NewLogger("dispatcher")
	dispatcher, err := swarm.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create dispatcher")
	}

	handler := func(resp *http.Response) error {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}

	var res swarm.Result
	if getEnv("DISPATCH_MODE", "waves") == "pool" {
		res, _, err = dispatcher.RunPooled(ctx, items, handler, nil)
	} else {
		res, _, err = dispatcher.Run(ctx, items, handler, nil)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Run ended early")
		os.Exit(1)
	}
	if res.Failed > 0 {
		logger.Warn().Int("failed", res.Failed).Msg("Run finished with failures")
	}
}

// loadEndpoints builds the proxy list from PROXY_ADDRS or, when REDIS_URL is
// set, from the provisioner-maintained fleet keys in Redis. Shared
// credentials come from PROXY_USERNAME / PROXY_PASSWORD.
func loadEndpoints(ctx context.Context) ([]swarm.Endpoint, error) {
	creds := source.CredentialsFromEnv("PROXY")

	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		client := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		src := source.NewRedis(client,
			getEnv("PROXY_ENDPOINTS_KEY", ""),
			getEnv("PROXY_CREDENTIALS_KEY", ""),
			logging.NewLogger("source"))
		return src.Endpoints(ctx)
	}

	addrs := splitList(getEnv("PROXY_ADDRS", ""))
	if len(addrs) == 0 {
		return nil, fmt.Errorf("set PROXY_ADDRS or REDIS_URL")
	}
	src, err := source.NewStatic(addrs, creds)
	if err != nil {
		return nil, err
	}
	return src.Endpoints(ctx)
}

// loadItems reads one URL per line, skipping blanks and # comments.
func loadItems(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no URLs in %s", path)
	}
	return items, nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationMs(key string, defaultMs int) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return time.Duration(defaultMs) * time.Millisecond
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return time.Duration(defaultMs) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}
