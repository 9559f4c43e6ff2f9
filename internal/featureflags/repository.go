package featureflags

import "context"

// Repository defines the interface for feature flag storage.
//
// Implementations return ErrFlagNotFound for unknown ids or keys, ErrDuplicateKey
// when a key is already taken, and errors wrapping ErrStorageUnavailable when the
// backend cannot be reached. All implementations are safe for concurrent use.
type Repository interface {
	// GetAll retrieves every stored flag.
	GetAll(ctx context.Context) ([]*FeatureFlag, error)

	// GetByID retrieves a flag by its id.
	GetByID(ctx context.Context, id string) (*FeatureFlag, error)

	// GetByKey retrieves a flag by key, ignoring case.
	GetByKey(ctx context.Context, key string) (*FeatureFlag, error)

	// Create stores a new flag, generating an id when it has none.
	Create(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error)

	// Update replaces an existing flag.
	Update(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error)

	// Delete removes a flag by id. It reports whether a flag was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// GetByTags retrieves flags carrying at least one of the tags, ignoring case.
	GetByTags(ctx context.Context, tags []string) ([]*FeatureFlag, error)
}

// Pinger is implemented by repositories backed by a remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}
