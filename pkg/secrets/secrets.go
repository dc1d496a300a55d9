// Package secrets retrieves named secrets from the secret store of the cloud the
// service runs on. Only the single GetSecret contract is exposed to the rest
// of the service.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Getter is the getSecret(name) -> value contract.
type Getter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// ErrSecretNotFound is wrapped by every Getter when a secret has no payload.
type ErrSecretNotFound struct {
	Name string
}

func (e ErrSecretNotFound) Error() string {
	return fmt.Sprintf("no secret found for name %s", e.Name)
}

// Static is a map backed Getter for local runs and tests.
type Static map[string]string

// GetSecret implements Getter.
func (s Static) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", ErrSecretNotFound{Name: name}
	}
	return v, nil
}

// LoadAll fetches every named secret concurrently and fails if any lookup fails.
func LoadAll(ctx context.Context, getter Getter, names ...string) (map[string]string, error) {
	var mu sync.Mutex
	values := make(map[string]string, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			v, err := getter.GetSecret(gctx, name)
			if err != nil {
				return fmt.Errorf("loading secret %s: %w", name, err)
			}
			mu.Lock()
			values[name] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}
