package source

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/swarmdev/proxyswarm/pkg/swarm"
)

// Redis key layout for a shared proxy fleet. The provisioner maintains these
// keys; this source only reads them.
const (
	// DefaultEndpointsKey is the list of "host:port" (or
	// "scheme://host:port") members, in fleet order.
	DefaultEndpointsKey = "swarm:proxies"

	// DefaultCredentialsKey is a hash with "username" and "password"
	// fields shared by the whole fleet.
	DefaultCredentialsKey = "swarm:proxy_credentials"
)

// Redis reads the current proxy fleet from Redis, so several dispatching
// processes can share one provisioner-maintained list.
type Redis struct {
	client         *redis.Client
	endpointsKey   string
	credentialsKey string
	logger         zerolog.Logger
}

// NewRedis creates a Redis-backed endpoint source. Empty key names fall
// back to the defaults.
func NewRedis(client *redis.Client, endpointsKey, credentialsKey string, logger zerolog.Logger) *Redis {
	if endpointsKey == "" {
		endpointsKey = DefaultEndpointsKey
	}
	if credentialsKey == "" {
		credentialsKey = DefaultCredentialsKey
	}
	return &Redis{
		client:         client,
		endpointsKey:   endpointsKey,
		credentialsKey: credentialsKey,
		logger:         logger,
	}
}

// Endpoints reads the fleet list and shared credentials. An absent
// credentials hash yields unauthenticated endpoints; an absent or empty
// fleet list is an error, since a run cannot proceed without egress paths.
func (r *Redis) Endpoints(ctx context.Context) ([]swarm.Endpoint, error) {
	addrs, err := r.client.LRange(ctx, r.endpointsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.endpointsKey, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no proxy endpoints under %s", r.endpointsKey)
	}

	creds, err := r.credentials(ctx)
	if err != nil {
		return nil, err
	}

	endpoints := make([]swarm.Endpoint, 0, len(addrs))
	for _, addr := range addrs {
		ep, err := swarm.ParseEndpoint(addr, creds)
		if err != nil {
			return nil, fmt.Errorf("redis source: %w", err)
		}
		endpoints = append(endpoints, ep)
	}

	r.logger.Debug().
		Int("endpoints", len(endpoints)).
		Str("key", r.endpointsKey).
		Msg("Loaded proxy fleet from Redis")

	return endpoints, nil
}

func (r *Redis) credentials(ctx context.Context) (swarm.Credentials, error) {
	fields, err := r.client.HGetAll(ctx, r.credentialsKey).Result()
	if err != nil && err != redis.Nil {
		return swarm.Credentials{}, fmt.Errorf("read %s: %w", r.credentialsKey, err)
	}
	return swarm.Credentials{
		Username: fields["username"],
		Password: fields["password"],
	}, nil
}
