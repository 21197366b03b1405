package swarm_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swarmdev/proxyswarm/internal/testutil"
	"github.com/swarmdev/proxyswarm/pkg/swarm"
)

func endpointFor(t *testing.T, proxyURL string) swarm.Endpoint {
	t.Helper()
	ep, err := swarm.ParseEndpoint(strings.TrimPrefix(proxyURL, "http://"), swarm.Credentials{})
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	return ep
}

// TestRun_ThroughRealProxies drives the full path: per-endpoint transport,
// proxy routing, header profile, handler, and progress accounting, against
// live local servers.
func TestRun_ThroughRealProxies(t *testing.T) {
	target := testutil.NewMockTarget()
	defer target.Close()

	p1 := testutil.NewMockProxy()
	defer p1.Close()
	p2 := testutil.NewMockProxy()
	defer p2.Close()

	d, err := swarm.New(swarm.DefaultConfig([]swarm.Endpoint{
		endpointFor(t, p1.URL()),
		endpointFor(t, p2.URL()),
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := make([]string, 6)
	for i := range items {
		items[i] = fmt.Sprintf("%s/page/%d", target.URL(), i)
	}

	var bodies atomic.Int64
	res, _, err := d.Run(context.Background(), items,
		func(resp *http.Response) error {
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if string(b) == "ok" {
				bodies.Add(1)
			}
			return nil
		}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Succeeded != 6 {
		t.Fatalf("succeeded = %d, want 6: %+v", res.Succeeded, res)
	}
	if bodies.Load() != 6 {
		t.Errorf("bodies read = %d, want 6", bodies.Load())
	}

	// Six items over two proxies: each slot serves three, and the split
	// is deterministic (even indexes via slot 0, odd via slot 1).
	if p1.RequestCount() != 3 || p2.RequestCount() != 3 {
		t.Errorf("proxy split = %d/%d, want 3/3", p1.RequestCount(), p2.RequestCount())
	}
	for _, url := range p1.Served() {
		if !strings.Contains(url, "/page/") {
			t.Errorf("unexpected URL via p1: %s", url)
		}
	}
}

func TestRun_ThroughRealProxies_TimeoutAndFailure(t *testing.T) {
	target := testutil.NewMockTarget()
	defer target.Close()
	target.SetResponse("/stuck", testutil.TargetResponse{
		StatusCode: http.StatusOK,
		Delay:      2 * time.Second,
	})

	p := testutil.NewMockProxy()
	defer p.Close()

	cfg := swarm.DefaultConfig([]swarm.Endpoint{endpointFor(t, p.URL())})
	cfg.RequestTimeout = 100 * time.Millisecond
	d, err := swarm.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var failures []string
	res, _, err := d.Run(context.Background(),
		[]string{target.URL() + "/stuck", target.URL() + "/fine"},
		nil,
		func(item string, err error) { failures = append(failures, item) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Failed != 1 || res.Succeeded != 1 {
		t.Errorf("result = %+v, want 1 failed / 1 succeeded", res)
	}
	if len(failures) != 1 || !strings.HasSuffix(failures[0], "/stuck") {
		t.Errorf("failures = %v", failures)
	}
}
