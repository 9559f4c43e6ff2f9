package featureflags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultMongoCollection is the collection flags are stored in.
const DefaultMongoCollection = "feature_flags"

// mongoFlagDocument is the stored form of a flag. The lower-cased key and tags
// back the case-insensitive lookups and the unique key index.
type mongoFlagDocument struct {
	FeatureFlag `bson:",inline"`
	KeyLower    string   `bson:"keyLower"`
	TagsLower   []string `bson:"tagsLower"`
}

func newMongoDocument(f *FeatureFlag) *mongoFlagDocument {
	tags := make([]string, len(f.Tags))
	for i, t := range f.Tags {
		tags[i] = NormalizeKey(t)
	}
	return &mongoFlagDocument{
		FeatureFlag: *f,
		KeyLower:    NormalizeKey(f.Key),
		TagsLower:   tags,
	}
}

// MongoRepository is a MongoDB implementation of Repository.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates a new MongoDB feature flags repository.
func NewMongoRepository(db *mongo.Database, collection string) *MongoRepository {
	if collection == "" {
		collection = DefaultMongoCollection
	}
	return &MongoRepository{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique key index and the tag index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "keyLower", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_key_lower"),
		},
		{
			Keys:    bson.D{{Key: "tagsLower", Value: 1}},
			Options: options.Index().SetName("idx_tags_lower"),
		},
	})
	if err != nil {
		return mapMongoError(err)
	}
	return nil
}

// GetAll retrieves every stored flag.
func (r *MongoRepository) GetAll(ctx context.Context) ([]*FeatureFlag, error) {
	return r.find(ctx, bson.D{})
}

// GetByID retrieves a flag by its id.
func (r *MongoRepository) GetByID(ctx context.Context, id string) (*FeatureFlag, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

// GetByKey retrieves a flag by key, ignoring case.
func (r *MongoRepository) GetByKey(ctx context.Context, key string) (*FeatureFlag, error) {
	return r.findOne(ctx, bson.D{{Key: "keyLower", Value: NormalizeKey(key)}})
}

// Create stores a new flag, generating an id when it has none.
func (r *MongoRepository) Create(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	f := flag.Clone()
	prepareCreate(f, time.Now().UTC().Truncate(time.Millisecond))

	if _, err := r.coll.InsertOne(ctx, newMongoDocument(f)); err != nil {
		return nil, mapMongoError(err)
	}
	return f, nil
}

// Update replaces an existing flag. The stored createdAt is kept.
func (r *MongoRepository) Update(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	f := flag.Clone()
	now := time.Now().UTC().Truncate(time.Millisecond)
	f.UpdatedAt = now
	f.stampEnvironments(now)

	doc := newMongoDocument(f)
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "key", Value: doc.Key},
		{Key: "keyLower", Value: doc.KeyLower},
		{Key: "name", Value: doc.Name},
		{Key: "description", Value: doc.Description},
		{Key: "enabled", Value: doc.Enabled},
		{Key: "tags", Value: nonNilTags(doc.Tags)},
		{Key: "tagsLower", Value: doc.TagsLower},
		{Key: "environmentConfigs", Value: doc.EnvironmentConfigs},
		{Key: "targetingRules", Value: doc.TargetingRules},
		{Key: "updatedAt", Value: doc.UpdatedAt},
	}}}

	var stored mongoFlagDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: f.ID}},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		return nil, mapMongoError(err)
	}
	return &stored.FeatureFlag, nil
}

// Delete removes a flag by id.
func (r *MongoRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return false, mapMongoError(err)
	}
	return res.DeletedCount > 0, nil
}

// GetByTags retrieves flags carrying at least one of the tags.
func (r *MongoRepository) GetByTags(ctx context.Context, tags []string) ([]*FeatureFlag, error) {
	lowered := make([]string, len(tags))
	for i, t := range tags {
		lowered[i] = NormalizeKey(t)
	}
	return r.find(ctx, bson.D{{Key: "tagsLower", Value: bson.D{{Key: "$in", Value: lowered}}}})
}

// Ping checks connectivity to the MongoDB deployment.
func (r *MongoRepository) Ping(ctx context.Context) error {
	if err := r.coll.Database().Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.D) (*FeatureFlag, error) {
	var doc mongoFlagDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapMongoError(err)
	}
	return &doc.FeatureFlag, nil
}

func (r *MongoRepository) find(ctx context.Context, filter bson.D) ([]*FeatureFlag, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "keyLower", Value: 1}}))
	if err != nil {
		return nil, mapMongoError(err)
	}

	var docs []mongoFlagDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapMongoError(err)
	}

	flags := make([]*FeatureFlag, 0, len(docs))
	for i := range docs {
		flags = append(flags, &docs[i].FeatureFlag)
	}
	return flags, nil
}

// mapMongoError translates driver errors into repository errors.
func mapMongoError(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrFlagNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicateKey
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return err
	}
	// Server selection and pool errors carry no server response.
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// Ensure MongoRepository implements Repository interface.
var _ Repository = (*MongoRepository)(nil)
