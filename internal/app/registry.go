package app

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// SubjectResolverFunc adapts a function to domain.SubjectResolver.
type SubjectResolverFunc func(ctx context.Context, id string) (any, error)

// Resolve calls f.
func (f SubjectResolverFunc) Resolve(ctx context.Context, id string) (any, error) {
	return f(ctx, id)
}

// SubjectRegistry maps subject type tags to resolvers. It is owned by the
// component that builds it; nothing here is process-wide.
type SubjectRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]domain.SubjectResolver
	aliases   map[string]string
}

// NewSubjectRegistry creates an empty registry. When customMapping is set,
// tags are translated through mapping before lookup.
func NewSubjectRegistry(customMapping bool, mapping map[string]string) *SubjectRegistry {
	r := &SubjectRegistry{resolvers: make(map[string]domain.SubjectResolver)}
	if customMapping {
		r.aliases = maps.Clone(mapping)
	}
	return r
}

// Register binds a canonical subject type to its resolver.
func (r *SubjectRegistry) Register(subjectType string, resolver domain.SubjectResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[subjectType] = resolver
}

// Canonical returns the subject type a stored tag stands for.
func (r *SubjectRegistry) Canonical(tag string) string {
	if mapped, ok := r.aliases[tag]; ok {
		return mapped
	}
	return tag
}

// Resolve loads the entity ref points at.
func (r *SubjectRegistry) Resolve(ctx context.Context, ref domain.SubjectRef) (any, error) {
	subjectType := r.Canonical(ref.Type)

	r.mu.RLock()
	resolver, ok := r.resolvers[subjectType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrSubjectTypeUnknown, subjectType)
	}

	subject, err := resolver.Resolve(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s %s: %w", subjectType, ref.ID, err)
	}
	return subject, nil
}
