package messagebus

import (
	"context"
	"net/http"
	"sync"

	"github.com/illmade-knight/tome-topics/pkg/apperrors"
	"github.com/illmade-knight/tome-topics/pkg/secrets"
	"github.com/illmade-knight/tome-topics/pkg/types"
	"golang.org/x/sync/errgroup"
)

// TopicSecret names the secret holding the provider identifier of a logical topic.
type TopicSecret struct {
	LogicalName string `yaml:"logical_name"`
	Secret      string `yaml:"secret"`
}

// Resolver maps logical topic names to provider resource identifiers. Its
// table is loaded once at startup and never changes afterwards.
type Resolver struct {
	table map[string]string
}

// NewResolver builds a resolver from already known identifiers.
func NewResolver(ids ...types.TopicIdentifier) *Resolver {
	table := make(map[string]string, len(ids))
	for _, id := range ids {
		table[id.LogicalName] = id.ResourceIdentifier
	}
	return &Resolver{table: table}
}

// LoadResolver fetches every topic's identifier from the secret store
// concurrently. Any lookup failure fails startup.
func LoadResolver(ctx context.Context, getter secrets.Getter, topics []TopicSecret) (*Resolver, error) {
	var mu sync.Mutex
	ids := make([]types.TopicIdentifier, 0, len(topics))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range topics {
		t := t
		g.Go(func() error {
			value, err := getter.GetSecret(gctx, t.Secret)
			if err != nil {
				return apperrors.WrapServerError(err, "loading identifier of topic %s from secret %s", t.LogicalName, t.Secret)
			}
			mu.Lock()
			ids = append(ids, types.TopicIdentifier{LogicalName: t.LogicalName, ResourceIdentifier: value})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewResolver(ids...), nil
}

// Resolve returns the provider identifier of a logical topic. An unknown topic
// is a configuration error of the calling application.
func (r *Resolver) Resolve(logicalName string) (string, error) {
	if r != nil {
		if id, ok := r.table[logicalName]; ok {
			return id, nil
		}
	}
	return "", apperrors.NewClientError(http.StatusBadRequest,
		"Topic [%s] not found in configuration. This is a configuration error in your application.", logicalName)
}

// Identifiers returns a copy of the table.
func (r *Resolver) Identifiers() []types.TopicIdentifier {
	out := make([]types.TopicIdentifier, 0, len(r.table))
	for k, v := range r.table {
		out = append(out, types.TopicIdentifier{LogicalName: k, ResourceIdentifier: v})
	}
	return out
}
