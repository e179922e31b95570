package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/storage"
	"github.com/scrypster/statline/pkg/types"
)

// StoreSource hands out the entity reader for a domain.
type StoreSource interface {
	EntityReader(domain string) (storage.EntityReader, error)
}

// Service resolves names across domains, keeping one StoreResolver per
// domain. Resolvers are rebuilt whenever the source returns a different
// reader (for example after a domains reload).
type Service struct {
	source StoreSource
	logger *slog.Logger

	mu        sync.Mutex
	resolvers map[string]*StoreResolver
}

// NewService creates a Service over source.
func NewService(source StoreSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Service{
		source:    source,
		logger:    logger,
		resolvers: make(map[string]*StoreResolver),
	}
}

// For returns the resolver for domain.
func (s *Service) For(domain string) (*StoreResolver, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	reader, err := s.source.EntityReader(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.resolvers[domain]; ok && r.store == reader {
		return r, nil
	}
	r := NewStoreResolver(domain, reader, s.logger)
	s.resolvers[domain] = r
	return r, nil
}

// Resolve resolves name within domain.
func (s *Service) Resolve(ctx context.Context, name, domain string, opts Options) (*types.ResolutionResult, error) {
	r, err := s.For(domain)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, name, opts)
}
