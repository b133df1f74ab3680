// Package mongo implements a repository.Connector on MongoDB.
//
// Each repository table maps to one collection. Documents keep their entity
// fields at the top level (so filters translate directly to MongoDB queries)
// plus a synthetic _id of "<company_id>/<id>".
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config contains configuration for the MongoDB connector.
type Config struct {
	// URI is the MongoDB connection string.
	URI string `mapstructure:"uri" validate:"required"`

	// Database is the database name. Default: "dittodrive".
	Database string `mapstructure:"database"`

	// ConnectTimeout bounds the initial connect and ping. Default: 10s.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Connector is a repository.Connector backed by MongoDB.
type Connector struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	if cfg.Database == "" {
		cfg.Database = "dittodrive"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, client.Database(cfg.Database), nil
}

// New connects to MongoDB and returns a connector.
func New(ctx context.Context, cfg Config) (*Connector, error) {
	client, db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Mongo repository connected (database=%s)", db.Name())
	return &Connector{client: client, db: db}, nil
}

// EnsureIndexes creates the tenant-scope index on each table.
func (c *Connector) EnsureIndexes(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		_, err := c.db.Collection(table).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: repository.FieldCompanyID, Value: 1}, {Key: repository.FieldID, Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", table, err)
		}
	}
	return nil
}

func docKey(companyID, id string) string {
	return companyID + "/" + id
}

// ToBSON converts an encoded JSON entity to a BSON document, preserving
// integer types.
func ToBSON(data []byte) (bson.M, error) {
	var doc bson.M
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert document to BSON: %w", err)
	}
	return doc, nil
}

// FromBSON converts a stored BSON document back to plain JSON, dropping _id.
func FromBSON(doc bson.M) ([]byte, error) {
	delete(doc, "_id")
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert document to JSON: %w", err)
	}
	return data, nil
}

// Find implements repository.Connector.
func (c *Connector) Find(ctx context.Context, table string, filter repository.Filter, opts repository.FindOptions) (repository.RawPage, error) {
	if err := filter.Validate(); err != nil {
		return repository.RawPage{}, err
	}
	offset, err := repository.PageOffset(opts.PageToken)
	if err != nil {
		return repository.RawPage{}, err
	}

	query := bson.M{}
	for field, value := range filter {
		query[field] = value
	}

	findOpts := options.Find().SetSort(bson.D{{Key: repository.FieldID, Value: 1}}).SetSkip(int64(offset))
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit + 1))
	}

	cursor, err := c.db.Collection(table).Find(ctx, query, findOpts)
	if err != nil {
		return repository.RawPage{}, fmt.Errorf("mongo find on %s: %w", table, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return repository.RawPage{}, fmt.Errorf("mongo decode on %s: %w", table, err)
	}

	more := opts.Limit > 0 && len(docs) > opts.Limit
	if more {
		docs = docs[:opts.Limit]
	}

	page := repository.RawPage{Documents: make([][]byte, 0, len(docs))}
	for _, doc := range docs {
		data, err := FromBSON(doc)
		if err != nil {
			return repository.RawPage{}, err
		}
		page.Documents = append(page.Documents, data)
	}
	page.NextPage = repository.NextPageToken(offset, len(docs), opts.Limit, more)
	return page, nil
}

// Save implements repository.Connector.
func (c *Connector) Save(ctx context.Context, table, companyID, id string, data []byte) error {
	if companyID == "" {
		return repository.ErrMissingCompany
	}

	doc, err := ToBSON(data)
	if err != nil {
		return err
	}
	doc["_id"] = docKey(companyID, id)

	_, err = c.db.Collection(table).ReplaceOne(ctx, bson.M{"_id": doc["_id"]}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo save %s/%s: %w", table, id, err)
	}
	return nil
}

// Remove implements repository.Connector.
func (c *Connector) Remove(ctx context.Context, table, companyID, id string) error {
	if companyID == "" {
		return repository.ErrMissingCompany
	}

	res, err := c.db.Collection(table).DeleteOne(ctx, bson.M{"_id": docKey(companyID, id)})
	if err != nil {
		return fmt.Errorf("mongo remove %s/%s: %w", table, id, err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AtomicCompareAndSet implements repository.Connector with a single
// conditional UpdateOne. A nil previous matches null or missing fields.
func (c *Connector) AtomicCompareAndSet(ctx context.Context, table, companyID, id, field string, previous, next any) (bool, error) {
	if companyID == "" {
		return false, repository.ErrMissingCompany
	}

	coll := c.db.Collection(table)
	key := docKey(companyID, id)

	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": key, field: previous},
		bson.M{"$set": bson.M{field: next}},
	)
	if err != nil {
		return false, fmt.Errorf("mongo compare-and-set %s/%s: %w", table, id, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	n, err := coll.CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, repository.ErrNotFound
	}
	return false, nil
}

// Close implements repository.Connector.
func (c *Connector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}
