package source

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/swarmdev/proxyswarm/pkg/swarm"
)

// setupTestRedis returns a client against a local Redis, skipping the test
// when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestRedis_Endpoints(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	if err := client.RPush(ctx, DefaultEndpointsKey, "10.0.0.1:3128", "10.0.0.2:3128").Err(); err != nil {
		t.Fatalf("seed endpoints: %v", err)
	}
	if err := client.HSet(ctx, DefaultCredentialsKey, "username", "swarm", "password", "s3cret").Err(); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}

	src := NewRedis(client, "", "", zerolog.Nop())
	eps, err := src.Endpoints(ctx)
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}

	want := []string{"10.0.0.1:3128", "10.0.0.2:3128"}
	if len(eps) != len(want) {
		t.Fatalf("endpoints = %d, want %d", len(eps), len(want))
	}
	for i, addr := range want {
		if eps[i].Addr() != addr {
			t.Errorf("endpoint %d = %s, want %s", i, eps[i].Addr(), addr)
		}
	}
	if eps[0].Credentials != (swarm.Credentials{Username: "swarm", Password: "s3cret"}) {
		t.Errorf("credentials = %+v", eps[0].Credentials)
	}
}

func TestRedis_EmptyFleetIsError(t *testing.T) {
	client := setupTestRedis(t)

	src := NewRedis(client, "", "", zerolog.Nop())
	if _, err := src.Endpoints(context.Background()); err == nil {
		t.Error("expected error for empty fleet list")
	}
}

func TestRedis_MissingCredentialsHash(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	if err := client.RPush(ctx, DefaultEndpointsKey, "10.0.0.1:3128").Err(); err != nil {
		t.Fatalf("seed endpoints: %v", err)
	}

	src := NewRedis(client, "", "", zerolog.Nop())
	eps, err := src.Endpoints(ctx)
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if !eps[0].Credentials.Empty() {
		t.Errorf("expected unauthenticated endpoint, got %+v", eps[0].Credentials)
	}
}
