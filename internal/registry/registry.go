package registry

import (
	"context"

	"dramastream/aggregator/internal/domain"
)

// Store is the persisted, ordered set of source descriptors for one catalog
// kind, plus its selection singleton. Listing order is always
// (priority asc, sort_order asc).
type Store interface {
	List(ctx context.Context, includeDisabled bool) ([]domain.SourceDescriptor, error)
	GetByKey(ctx context.Context, key string) (domain.SourceDescriptor, error)
	Create(ctx context.Context, src domain.SourceDescriptor) error
	Update(ctx context.Context, src domain.SourceDescriptor) error
	SetEnabled(ctx context.Context, key string, enabled bool) error
	Delete(ctx context.Context, key string) error

	// ReplaceAll atomically swaps the registry content for the given set,
	// assigning sort_order from slice position. A concurrent reader sees
	// either the old set or the new set, never a mix.
	ReplaceAll(ctx context.Context, sources []domain.SourceDescriptor) error

	// SelectedKey returns the stored selection, or "" when none is stored.
	// The key is not guaranteed to reference a live enabled source; use
	// ResolveSelected for the effective selection.
	SelectedKey(ctx context.Context) (string, error)
	SetSelectedKey(ctx context.Context, key string) error
}

// Selected resolves the effective selection for a store: the stored key if
// it references an enabled source, otherwise the first enabled source.
func Selected(ctx context.Context, s Store) (*domain.SourceDescriptor, error) {
	enabled, err := s.List(ctx, false)
	if err != nil {
		return nil, err
	}
	key, err := s.SelectedKey(ctx)
	if err != nil {
		return nil, err
	}
	return ResolveSelected(key, enabled), nil
}
