package featureflags

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCacheTTL is used when ServiceConfig.CacheTTL is zero.
const DefaultCacheTTL = 30 * time.Second

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// CacheTTL is how long IsEnabled may reuse a flag read from the store.
	// Zero uses DefaultCacheTTL; a negative value disables the cache.
	CacheTTL time.Duration

	// Publisher receives change events after successful mutations. Optional.
	Publisher ChangePublisher

	// Metrics records evaluations and store calls. Optional.
	Metrics *Metrics

	// Now overrides the clock used for change events.
	Now func() time.Time
}

// Service validates and stores feature flags and evaluates them per environment.
type Service struct {
	repo      Repository
	logger    zerolog.Logger
	cacheTTL  time.Duration
	publisher ChangePublisher
	metrics   *Metrics
	now       func() time.Time

	mu          sync.RWMutex
	cache       map[string]*FeatureFlag
	cacheExpiry time.Time

	// Invalidations stamp keys with a sequence number so a read that raced a
	// mutation is never written back into the cache.
	seq       uint64
	flushedAt uint64
	keyGen    map[string]uint64
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:      cfg.Repository,
		logger:    cfg.Logger,
		cacheTTL:  cacheTTL,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		now:       now,
		cache:     make(map[string]*FeatureFlag),
		keyGen:    make(map[string]uint64),
	}
}

// GetAll retrieves all feature flags.
func (s *Service) GetAll(ctx context.Context) ([]*FeatureFlag, error) {
	start := time.Now()
	flags, err := s.repo.GetAll(ctx)
	s.metrics.RecordStoreCall("get_all", time.Since(start), err)
	return flags, err
}

// GetByID retrieves a flag by id. The boolean is false when no flag has that id.
func (s *Service) GetByID(ctx context.Context, id string) (*FeatureFlag, bool, error) {
	start := time.Now()
	flag, err := s.repo.GetByID(ctx, id)
	s.metrics.RecordStoreCall("get_by_id", time.Since(start), err)
	return softMiss(flag, err)
}

// GetByKey retrieves a flag by key, ignoring case. The boolean is false when no
// flag has that key.
func (s *Service) GetByKey(ctx context.Context, key string) (*FeatureFlag, bool, error) {
	start := time.Now()
	flag, err := s.repo.GetByKey(ctx, key)
	s.metrics.RecordStoreCall("get_by_key", time.Since(start), err)
	return softMiss(flag, err)
}

// GetByTags retrieves flags carrying at least one of the tags.
func (s *Service) GetByTags(ctx context.Context, tags []string) ([]*FeatureFlag, error) {
	start := time.Now()
	flags, err := s.repo.GetByTags(ctx, tags)
	s.metrics.RecordStoreCall("get_by_tags", time.Since(start), err)
	return flags, err
}

// IsEnabled evaluates the flag with the given key for an environment.
// An empty environment means DefaultEnvironment. Unknown keys evaluate to false;
// an error is returned only when the store fails.
func (s *Service) IsEnabled(ctx context.Context, key, environment string) (bool, error) {
	environment = ResolveEnvironment(environment)

	flag, gen, ok := s.getCached(key)
	if ok {
		s.metrics.RecordCacheHit()
	} else {
		s.metrics.RecordCacheMiss()

		var (
			found bool
			err   error
		)
		flag, found, err = s.GetByKey(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("flag", key).Msg("failed to get feature flag from repository")
			return false, err
		}
		if found {
			s.setCached(key, flag, gen)
		}
	}

	enabled := IsEnabled(flag, environment)
	s.metrics.RecordEvaluation(environment, enabled)
	return enabled, nil
}

// Create validates and stores a new flag.
func (s *Service) Create(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	if err := Validate(flag); err != nil {
		return nil, err
	}

	start := time.Now()
	created, err := s.repo.Create(ctx, flag)
	s.metrics.RecordStoreCall("create", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("flag_id", created.ID).Str("flag", created.Key).Msg("feature flag created")
	s.afterMutation(ctx, ChangeCreated, created.ID, created.Key, created)
	return created, nil
}

// Update replaces an existing flag. It returns ErrFlagNotFound when no flag has
// the id, before any validation is attempted.
func (s *Service) Update(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	if flag == nil {
		return nil, Validate(nil)
	}

	existing, found, err := s.GetByID(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrFlagNotFound
	}

	if err := Validate(flag); err != nil {
		return nil, err
	}

	start := time.Now()
	updated, err := s.repo.Update(ctx, flag)
	s.metrics.RecordStoreCall("update", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("flag_id", updated.ID).
		Str("flag", updated.Key).
		Bool("enabled", updated.Enabled).
		Msg("feature flag updated")
	s.invalidateKey(existing.Key)
	s.afterMutation(ctx, ChangeUpdated, updated.ID, updated.Key, updated)
	return updated, nil
}

// Delete removes a flag by id. It reports whether a flag was removed.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	existing, found, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	start := time.Now()
	deleted, err := s.repo.Delete(ctx, id)
	s.metrics.RecordStoreCall("delete", time.Since(start), err)
	if err != nil || !deleted {
		return deleted, err
	}

	s.logger.Info().Str("flag_id", id).Str("flag", existing.Key).Msg("feature flag deleted")
	s.invalidateKey(existing.Key)
	s.afterMutation(ctx, ChangeDeleted, id, existing.Key, nil)
	return true, nil
}

// InvalidateCache clears the cached flags, forcing a refresh on next access.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*FeatureFlag)
	s.cacheExpiry = time.Time{}
	s.seq++
	s.flushedAt = s.seq
	s.keyGen = make(map[string]uint64)
}

func (s *Service) afterMutation(ctx context.Context, action ChangeAction, id, key string, flag *FeatureFlag) {
	s.invalidateKey(key)
	s.metrics.RecordMutation(action)

	if s.publisher == nil {
		return
	}
	event := ChangeEvent{
		Action:     action,
		FlagID:     id,
		Key:        key,
		OccurredAt: s.now(),
		Flag:       flag,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().
			Err(err).
			Str("flag_id", id).
			Str("action", string(action)).
			Msg("failed to publish feature flag change")
	}
}

// getCached retrieves a flag from cache if valid. On a miss it returns the
// generation the caller must pass to setCached.
func (s *Service) getCached(key string) (*FeatureFlag, uint64, bool) {
	if s.cacheTTL < 0 {
		return nil, 0, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	k := NormalizeKey(key)
	gen := s.generation(k)
	if time.Now().After(s.cacheExpiry) {
		return nil, gen, false
	}
	flag, ok := s.cache[k]
	return flag, gen, ok
}

// setCached stores a flag in the cache unless the key was invalidated after
// gen was taken.
func (s *Service) setCached(key string, flag *FeatureFlag, gen uint64) {
	if s.cacheTTL < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := NormalizeKey(key)
	if s.generation(k) != gen {
		return
	}
	if s.cacheExpiry.Before(time.Now()) {
		s.cache = make(map[string]*FeatureFlag)
		s.cacheExpiry = time.Now().Add(s.cacheTTL)
	}
	s.cache[k] = flag
}

func (s *Service) invalidateKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := NormalizeKey(key)
	delete(s.cache, k)
	s.seq++
	s.keyGen[k] = s.seq
}

// generation must be called with s.mu held.
func (s *Service) generation(key string) uint64 {
	if gen, ok := s.keyGen[key]; ok && gen > s.flushedAt {
		return gen
	}
	return s.flushedAt
}

func softMiss(flag *FeatureFlag, err error) (*FeatureFlag, bool, error) {
	if errors.Is(err, ErrFlagNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return flag, true, nil
}
