package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// QueryBuilder provides a fluent interface for MongoDB queries
type QueryBuilder struct {
	collection *mongo.Collection
	filter     bson.M
	sort       bson.D
	limit      *int64
	projection bson.M
}

// NewQuery creates a new query builder for a collection
func (c *Client) NewQuery(collectionName string) *QueryBuilder {
	return &QueryBuilder{
		collection: c.Collection(collectionName),
		filter:     bson.M{},
		projection: bson.M{},
	}
}

// Eq adds an equality filter
func (q *QueryBuilder) Eq(field string, value interface{}) *QueryBuilder {
	q.filter[field] = value
	return q
}

// Select sets the projection (fields to return)
func (q *QueryBuilder) Select(fields ...string) *QueryBuilder {
	projection := bson.M{}
	for _, field := range fields {
		projection[field] = 1
	}
	q.projection = projection
	return q
}

// Limit sets the limit
func (q *QueryBuilder) Limit(limit int64) *QueryBuilder {
	q.limit = &limit
	return q
}

// Sort sets the sort order
func (q *QueryBuilder) Sort(field string, ascending bool) *QueryBuilder {
	direction := 1
	if !ascending {
		direction = -1
	}
	q.sort = append(q.sort, bson.E{Key: field, Value: direction})
	return q
}

// Find executes a find query and returns results
func (q *QueryBuilder) Find(ctx context.Context) ([]map[string]interface{}, error) {
	opts := options.Find()
	if q.limit != nil {
		opts.SetLimit(*q.limit)
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	if len(q.projection) > 0 {
		opts.SetProjection(q.projection)
	}

	cursor, err := q.collection.Find(ctx, q.filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []map[string]interface{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	return results, nil
}

// FindOne executes a find one query, returning nil without error when no document matches
func (q *QueryBuilder) FindOne(ctx context.Context) (map[string]interface{}, error) {
	opts := options.FindOne()
	if len(q.projection) > 0 {
		opts.SetProjection(q.projection)
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}

	var result map[string]interface{}
	err := q.collection.FindOne(ctx, q.filter, opts).Decode(&result)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Insert inserts a document
func (q *QueryBuilder) Insert(ctx context.Context, document interface{}) (interface{}, error) {
	result, err := q.collection.InsertOne(ctx, document)
	if err != nil {
		return nil, err
	}
	return result.InsertedID, nil
}

// Upsert updates or inserts a document matching filter
func (q *QueryBuilder) Upsert(ctx context.Context, filter bson.M, update interface{}) (*mongo.UpdateResult, error) {
	opts := options.Update().SetUpsert(true)
	result, err := q.collection.UpdateOne(ctx, filter, bson.M{"$set": update}, opts)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateOne updates a single matching document
func (q *QueryBuilder) UpdateOne(ctx context.Context, update interface{}) (*mongo.UpdateResult, error) {
	result, err := q.collection.UpdateOne(ctx, q.filter, bson.M{"$set": update})
	if err != nil {
		return nil, err
	}
	return result, nil
}
