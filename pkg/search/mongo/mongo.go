// Package mongo implements a search.Adapter on MongoDB.
//
// Each indexed table gets a "search_<table>" collection. Text queries use a
// case-insensitive regular expression over the text field, with the query
// string escaped so it matches literally.
package mongo

import (
	"context"
	"fmt"
	"regexp"

	"github.com/marmos91/dittodrive/pkg/repository"
	repomongo "github.com/marmos91/dittodrive/pkg/repository/mongo"
	"github.com/marmos91/dittodrive/pkg/search"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	fieldText   = "text"
	fieldFields = "fields"
)

// Config reuses the repository connection settings.
type Config = repomongo.Config

// Adapter is a MongoDB-backed search index.
type Adapter struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	client, db, err := repomongo.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: client, db: db}, nil
}

func (a *Adapter) collection(table string) *mongo.Collection {
	return a.db.Collection("search_" + table)
}

func docID(companyID, id string) string {
	return companyID + "/" + id
}

func (a *Adapter) Upsert(ctx context.Context, doc search.Document) error {
	if doc.CompanyID == "" {
		return search.ErrMissingCompany
	}
	fields, err := search.NormalizeFields(doc.Fields)
	if err != nil {
		return err
	}

	record := bson.M{
		"_id":                     docID(doc.CompanyID, doc.ID),
		repository.FieldCompanyID: doc.CompanyID,
		repository.FieldID:        doc.ID,
		fieldText:                 doc.Text,
		fieldFields:               bson.M(fields),
	}
	_, err = a.collection(doc.Table).ReplaceOne(ctx,
		bson.M{"_id": record["_id"]}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", doc.ID, err)
	}
	return nil
}

func (a *Adapter) Remove(ctx context.Context, table, companyID, id string) error {
	_, err := a.collection(table).DeleteOne(ctx, bson.M{"_id": docID(companyID, id)})
	if err != nil {
		return fmt.Errorf("failed to remove %s from index: %w", id, err)
	}
	return nil
}

func (a *Adapter) Search(ctx context.Context, q search.Query) (search.Result, error) {
	if q.CompanyID == "" {
		return search.Result{}, search.ErrMissingCompany
	}
	offset, err := repository.PageOffset(q.PageToken)
	if err != nil {
		return search.Result{}, err
	}

	filter := bson.M{repository.FieldCompanyID: q.CompanyID}
	if q.Text != "" {
		filter[fieldText] = bson.M{"$regex": regexp.QuoteMeta(q.Text), "$options": "i"}
	}
	filters, err := search.NormalizeFields(q.Filters)
	if err != nil {
		return search.Result{}, err
	}
	for field, want := range filters {
		filter[fieldFields+"."+field] = want
	}

	opts := options.Find().
		SetSort(bson.D{{Key: repository.FieldID, Value: 1}}).
		SetProjection(bson.M{repository.FieldID: 1}).
		SetSkip(int64(offset))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit + 1))
	}

	cur, err := a.collection(q.Table).Find(ctx, filter, opts)
	if err != nil {
		return search.Result{}, fmt.Errorf("search query failed: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"id"`
		}
		if err := cur.Decode(&row); err != nil {
			return search.Result{}, fmt.Errorf("failed to decode search hit: %w", err)
		}
		ids = append(ids, row.ID)
	}
	if err := cur.Err(); err != nil {
		return search.Result{}, fmt.Errorf("search cursor failed: %w", err)
	}

	more := false
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
		more = true
	}
	return search.Result{
		IDs:      ids,
		NextPage: repository.NextPageToken(offset, len(ids), q.Limit, more),
	}, nil
}

// Drop removes the index collection of a table.
func (a *Adapter) Drop(ctx context.Context, table string) error {
	return a.collection(table).Drop(ctx)
}

func (a *Adapter) Close() error {
	return a.client.Disconnect(context.Background())
}
