package featureflags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the hashes the Redis repository writes.
const DefaultRedisPrefix = "flagplane"

// Script results.
const (
	redisWritten   = 1
	redisNotFound  = 0
	redisDuplicate = -1
	redisConflict  = -2
)

// KEYS: flags hash, keys hash. ARGV: id, lower-cased key, document.
var redisCreateScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[2], ARGV[2]) == 1 or redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  return -1
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
redis.call("HSET", KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// ARGV: id, expected stored document, its lower-cased key, new lower-cased key,
// new document.
var redisUpdateScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
if not current then
  return 0
end
if current ~= ARGV[2] then
  return -2
end
local owner = redis.call("HGET", KEYS[2], ARGV[4])
if owner and owner ~= ARGV[1] then
  return -1
end
if ARGV[3] ~= ARGV[4] then
  redis.call("HDEL", KEYS[2], ARGV[3])
end
redis.call("HSET", KEYS[2], ARGV[4], ARGV[1])
redis.call("HSET", KEYS[1], ARGV[1], ARGV[5])
return 1
`)

// ARGV: id, expected stored document, its lower-cased key.
var redisDeleteScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
if not current then
  return 0
end
if current ~= ARGV[2] then
  return -2
end
redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[3])
return 1
`)

// RedisRepository is a Redis implementation of Repository.
//
// Flags live as JSON documents in the <prefix>:flags hash keyed by id. The
// <prefix>:keys hash maps lower-cased keys to ids. Writes run as Lua scripts
// that touch both hashes atomically. Updates and deletes compare the stored
// document against the one they read and start over when another writer
// replaced it in between.
type RedisRepository struct {
	client   redis.UniversalClient
	flagsKey string
	keysKey  string
}

// NewRedisRepository creates a new Redis feature flags repository.
func NewRedisRepository(client redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRepository{
		client:   client,
		flagsKey: prefix + ":flags",
		keysKey:  prefix + ":keys",
	}
}

// GetAll retrieves every stored flag.
func (r *RedisRepository) GetAll(ctx context.Context) ([]*FeatureFlag, error) {
	raw, err := r.client.HGetAll(ctx, r.flagsKey).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}

	flags := make([]*FeatureFlag, 0, len(raw))
	for id, data := range raw {
		f, err := decodeRedisFlag(data)
		if err != nil {
			return nil, fmt.Errorf("decode flag %s: %w", id, err)
		}
		flags = append(flags, f)
	}
	sortByKey(flags)
	return flags, nil
}

// GetByID retrieves a flag by its id.
func (r *RedisRepository) GetByID(ctx context.Context, id string) (*FeatureFlag, error) {
	data, err := r.client.HGet(ctx, r.flagsKey, id).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}
	return decodeRedisFlag(data)
}

// GetByKey retrieves a flag by key, ignoring case.
func (r *RedisRepository) GetByKey(ctx context.Context, key string) (*FeatureFlag, error) {
	id, err := r.client.HGet(ctx, r.keysKey, NormalizeKey(key)).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}
	return r.GetByID(ctx, id)
}

// Create stores a new flag, generating an id when it has none.
func (r *RedisRepository) Create(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	f := flag.Clone()
	prepareCreate(f, time.Now().UTC())

	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}

	res, err := redisCreateScript.Run(ctx, r.client, r.keys(), f.ID, NormalizeKey(f.Key), data).Int()
	if err != nil {
		return nil, mapRedisError(err)
	}
	if res == redisDuplicate {
		return nil, ErrDuplicateKey
	}
	return f, nil
}

// Update replaces an existing flag. The stored createdAt is kept.
func (r *RedisRepository) Update(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	for {
		current, existing, err := r.load(ctx, flag.ID)
		if err != nil {
			return nil, err
		}

		f := flag.Clone()
		prepareUpdate(f, existing, time.Now().UTC())
		data, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}

		res, err := redisUpdateScript.Run(ctx, r.client, r.keys(),
			f.ID, current, NormalizeKey(existing.Key), NormalizeKey(f.Key), data).Int()
		if err != nil {
			return nil, mapRedisError(err)
		}
		switch res {
		case redisWritten:
			return f, nil
		case redisNotFound:
			return nil, ErrFlagNotFound
		case redisDuplicate:
			return nil, ErrDuplicateKey
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Delete removes a flag by id.
func (r *RedisRepository) Delete(ctx context.Context, id string) (bool, error) {
	for {
		current, existing, err := r.load(ctx, id)
		if errors.Is(err, ErrFlagNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		res, err := redisDeleteScript.Run(ctx, r.client, r.keys(),
			id, current, NormalizeKey(existing.Key)).Int()
		if err != nil {
			return false, mapRedisError(err)
		}
		switch res {
		case redisWritten:
			return true, nil
		case redisNotFound:
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
}

// GetByTags retrieves flags carrying at least one of the tags.
func (r *RedisRepository) GetByTags(ctx context.Context, tags []string) ([]*FeatureFlag, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*FeatureFlag, 0)
	for _, f := range all {
		if f.HasAnyTag(tags) {
			result = append(result, f)
		}
	}
	return result, nil
}

// Ping checks connectivity to Redis.
func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// load returns the stored document for id along with its decoded flag.
func (r *RedisRepository) load(ctx context.Context, id string) (string, *FeatureFlag, error) {
	data, err := r.client.HGet(ctx, r.flagsKey, id).Result()
	if err != nil {
		return "", nil, mapRedisError(err)
	}
	f, err := decodeRedisFlag(data)
	if err != nil {
		return "", nil, err
	}
	return data, f, nil
}

func (r *RedisRepository) keys() []string {
	return []string{r.flagsKey, r.keysKey}
}

func decodeRedisFlag(data string) (*FeatureFlag, error) {
	var f FeatureFlag
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// mapRedisError translates client errors into repository errors.
func mapRedisError(err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return ErrFlagNotFound
	case errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrFlagNotFound),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return err
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// Ensure RedisRepository implements Repository interface.
var _ Repository = (*RedisRepository)(nil)
