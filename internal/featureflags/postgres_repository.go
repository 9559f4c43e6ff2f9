package featureflags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL feature flags repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const flagColumns = `id, key, name, description, enabled, tags,
		environment_configs, targeting_rules, created_at, updated_at`

// GetAll retrieves every stored flag.
func (r *PostgresRepository) GetAll(ctx context.Context) ([]*FeatureFlag, error) {
	query := `
		SELECT ` + flagColumns + `
		FROM feature_flags
		ORDER BY lower(key)
	`
	return r.queryFlags(ctx, query)
}

// GetByID retrieves a flag by its id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*FeatureFlag, error) {
	query := `
		SELECT ` + flagColumns + `
		FROM feature_flags
		WHERE id = $1
	`
	return r.queryFlag(ctx, query, id)
}

// GetByKey retrieves a flag by key, ignoring case.
func (r *PostgresRepository) GetByKey(ctx context.Context, key string) (*FeatureFlag, error) {
	query := `
		SELECT ` + flagColumns + `
		FROM feature_flags
		WHERE lower(key) = $1
	`
	return r.queryFlag(ctx, query, NormalizeKey(key))
}

// Create stores a new flag, generating an id when it has none.
func (r *PostgresRepository) Create(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	f := flag.Clone()
	prepareCreate(f, time.Now().UTC())

	envJSON, rulesJSON, err := marshalChildren(f)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO feature_flags (
			id, key, name, description, enabled, tags,
			environment_configs, targeting_rules, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		f.ID, f.Key, f.Name, f.Description, f.Enabled, nonNilTags(f.Tags),
		envJSON, rulesJSON, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return f, nil
}

// Update replaces an existing flag. The stored created_at is kept.
func (r *PostgresRepository) Update(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	f := flag.Clone()
	now := time.Now().UTC()
	f.UpdatedAt = now
	f.stampEnvironments(now)

	envJSON, rulesJSON, err := marshalChildren(f)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE feature_flags SET
			key = $2,
			name = $3,
			description = $4,
			enabled = $5,
			tags = $6,
			environment_configs = $7,
			targeting_rules = $8,
			updated_at = GREATEST($9, created_at)
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err = r.pool.QueryRow(ctx, query,
		f.ID, f.Key, f.Name, f.Description, f.Enabled, nonNilTags(f.Tags),
		envJSON, rulesJSON, f.UpdatedAt,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return f, nil
}

// Delete removes a flag by id.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	query := `DELETE FROM feature_flags WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, mapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByTags retrieves flags carrying at least one of the tags.
func (r *PostgresRepository) GetByTags(ctx context.Context, tags []string) ([]*FeatureFlag, error) {
	lowered := make([]string, len(tags))
	for i, t := range tags {
		lowered[i] = NormalizeKey(t)
	}

	query := `
		SELECT ` + flagColumns + `
		FROM feature_flags
		WHERE EXISTS (
			SELECT 1 FROM unnest(tags) AS t(tag)
			WHERE lower(t.tag) = ANY($1)
		)
		ORDER BY lower(key)
	`
	return r.queryFlags(ctx, query, lowered)
}

// Ping checks connectivity to the database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (r *PostgresRepository) queryFlag(ctx context.Context, query string, args ...any) (*FeatureFlag, error) {
	return scanFlag(r.pool.QueryRow(ctx, query, args...))
}

func (r *PostgresRepository) queryFlags(ctx context.Context, query string, args ...any) ([]*FeatureFlag, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	flags := make([]*FeatureFlag, 0)
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}
	return flags, nil
}

func scanFlag(row pgx.Row) (*FeatureFlag, error) {
	var (
		f         FeatureFlag
		envJSON   []byte
		rulesJSON []byte
	)
	err := row.Scan(
		&f.ID,
		&f.Key,
		&f.Name,
		&f.Description,
		&f.Enabled,
		&f.Tags,
		&envJSON,
		&rulesJSON,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	// A row that cannot be decoded is a data problem, not an outage.
	if err := json.Unmarshal(envJSON, &f.EnvironmentConfigs); err != nil {
		return nil, fmt.Errorf("decode environment configs: %w", err)
	}
	if err := json.Unmarshal(rulesJSON, &f.TargetingRules); err != nil {
		return nil, fmt.Errorf("decode targeting rules: %w", err)
	}
	return &f, nil
}

func marshalChildren(f *FeatureFlag) (envJSON, rulesJSON []byte, err error) {
	envs := f.EnvironmentConfigs
	if envs == nil {
		envs = []EnvironmentConfig{}
	}
	rules := f.TargetingRules
	if rules == nil {
		rules = []TargetingRule{}
	}
	if envJSON, err = json.Marshal(envs); err != nil {
		return nil, nil, err
	}
	if rulesJSON, err = json.Marshal(rules); err != nil {
		return nil, nil, err
	}
	return envJSON, rulesJSON, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// mapPostgresError translates driver errors into repository errors.
// Server-side errors other than unique violations pass through unchanged.
func mapPostgresError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrFlagNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return ErrDuplicateKey
		}
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
