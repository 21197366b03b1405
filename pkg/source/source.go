// Package source provides proxy endpoint suppliers: concrete implementations
// of the collaborator that hands the dispatcher its ordered proxy list for a
// run. Provisioning the hosts behind those endpoints is someone else's job;
// a source only reports what currently exists.
package source

import (
	"context"
	"fmt"
	"os"

	"github.com/swarmdev/proxyswarm/pkg/swarm"
)

// Source supplies the ordered proxy endpoint list for one run. The returned
// list must be treated as stable for the duration of that run.
type Source interface {
	Endpoints(ctx context.Context) ([]swarm.Endpoint, error)
}

// Static is a fixed, in-memory endpoint source.
type Static struct {
	endpoints []swarm.Endpoint
}

// NewStatic builds a static source from "host:port" or "scheme://host:port"
// strings, applying the shared credentials to every endpoint.
func NewStatic(addrs []string, creds swarm.Credentials) (*Static, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("static source: no proxy addresses")
	}
	endpoints := make([]swarm.Endpoint, 0, len(addrs))
	for _, addr := range addrs {
		ep, err := swarm.ParseEndpoint(addr, creds)
		if err != nil {
			return nil, fmt.Errorf("static source: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	return &Static{endpoints: endpoints}, nil
}

// Endpoints returns a copy of the configured list.
func (s *Static) Endpoints(ctx context.Context) ([]swarm.Endpoint, error) {
	return append([]swarm.Endpoint(nil), s.endpoints...), nil
}

// CredentialsFromEnv reads the shared proxy credentials from
// <prefix>_USERNAME and <prefix>_PASSWORD. Both empty is a valid result:
// not every proxy fleet is authenticated.
func CredentialsFromEnv(prefix string) swarm.Credentials {
	return swarm.Credentials{
		Username: os.Getenv(prefix + "_USERNAME"),
		Password: os.Getenv(prefix + "_PASSWORD"),
	}
}
