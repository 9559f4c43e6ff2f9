package featureflags

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// Flags are copied on the way in and out so callers never share state with the store.
type InMemoryRepository struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag // by id
	keys  map[string]string       // lower-cased key -> id
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		flags: make(map[string]*FeatureFlag),
		keys:  make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// NewInMemoryRepositoryWithFlags creates a new in-memory repository with initial flags.
// Flags with a key that is already present are skipped.
func NewInMemoryRepositoryWithFlags(flags []*FeatureFlag) *InMemoryRepository {
	repo := NewInMemoryRepository()
	for _, f := range flags {
		_, _ = repo.Create(context.Background(), f)
	}
	return repo
}

// GetAll retrieves every stored flag, ordered by key.
func (r *InMemoryRepository) GetAll(ctx context.Context) ([]*FeatureFlag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*FeatureFlag, 0, len(r.flags))
	for _, f := range r.flags {
		result = append(result, f.Clone())
	}
	sortByKey(result)
	return result, nil
}

// GetByID retrieves a flag by its id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*FeatureFlag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return f.Clone(), nil
}

// GetByKey retrieves a flag by key, ignoring case.
func (r *InMemoryRepository) GetByKey(ctx context.Context, key string) (*FeatureFlag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[NormalizeKey(key)]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return r.flags[id].Clone(), nil
}

// Create stores a new flag, generating an id when it has none.
func (r *InMemoryRepository) Create(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	cpy := flag.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cpy.ID != "" {
		if _, exists := r.flags[cpy.ID]; exists {
			return nil, ErrDuplicateKey
		}
	}
	lk := NormalizeKey(cpy.Key)
	if _, taken := r.keys[lk]; taken {
		return nil, ErrDuplicateKey
	}

	prepareCreate(cpy, r.now())
	r.flags[cpy.ID] = cpy
	r.keys[lk] = cpy.ID
	return cpy.Clone(), nil
}

// Update replaces an existing flag.
func (r *InMemoryRepository) Update(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	cpy := flag.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.flags[cpy.ID]
	if !ok {
		return nil, ErrFlagNotFound
	}
	lk := NormalizeKey(cpy.Key)
	if owner, taken := r.keys[lk]; taken && owner != cpy.ID {
		return nil, ErrDuplicateKey
	}

	prepareUpdate(cpy, existing, r.now())
	delete(r.keys, NormalizeKey(existing.Key))
	r.flags[cpy.ID] = cpy
	r.keys[lk] = cpy.ID
	return cpy.Clone(), nil
}

// Delete removes a flag by id.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flags[id]
	if !ok {
		return false, nil
	}
	delete(r.flags, id)
	delete(r.keys, NormalizeKey(f.Key))
	return true, nil
}

// GetByTags retrieves flags carrying at least one of the tags.
func (r *InMemoryRepository) GetByTags(ctx context.Context, tags []string) ([]*FeatureFlag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*FeatureFlag, 0)
	for _, f := range r.flags {
		if f.HasAnyTag(tags) {
			result = append(result, f.Clone())
		}
	}
	sortByKey(result)
	return result, nil
}

// Len returns the number of stored flags.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flags)
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
