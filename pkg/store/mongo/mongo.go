// Package mongo provides MongoDB persistence for doccache.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// errNamespaceExists is the server error code for creating an existing collection.
const errNamespaceExists = 48

// Database wraps a MongoDB database.
type Database struct {
	db     *mongo.Database
	client *mongo.Client // set when the Database owns the connection
}

// Connect dials uri and opens the named database. Close disconnects.
// Embedded documents decode as bson.M rather than bson.D.
func Connect(ctx context.Context, uri, name string) (*Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return &Database{db: client.Database(name), client: client}, nil
}

// Connector returns a collection.Connector dialing uri for each database.
func Connector(uri string) collection.Connector {
	return func(ctx context.Context, name string) (collection.Database, error) {
		return Connect(ctx, uri, name)
	}
}

// New wraps an existing database handle. Close leaves its client connected.
func New(db *mongo.Database) *Database {
	return &Database{db: db}
}

// Name returns the database name.
func (d *Database) Name() string { return d.db.Name() }

// CreateCollection opens the named collection, creating it capped if requested.
// An existing collection is used as is.
func (d *Database) CreateCollection(ctx context.Context, name string, opts collection.Options) (collection.Collection, error) {
	if opts.Capped {
		size := opts.SizeBytes
		if size <= 0 {
			size = collection.DefaultCappedSize
		}
		co := options.CreateCollection().SetCapped(true).SetSizeInBytes(size)
		if err := d.db.CreateCollection(ctx, name, co); err != nil && !isNamespaceExists(err) {
			return nil, fmt.Errorf("mongo create collection: %w", err)
		}
	}
	return Wrap(d.db.Collection(name)), nil
}

func isNamespaceExists(err error) bool {
	var ce mongo.CommandError
	return errors.As(err, &ce) && ce.Code == errNamespaceExists
}

// Close disconnects the client if the Database opened it.
func (d *Database) Close() error {
	if d.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongo disconnect: %w", err)
	}
	return nil
}

// Collection implements collection.Collection over a MongoDB collection.
type Collection struct {
	coll *mongo.Collection
}

// Wrap adapts an existing MongoDB collection.
func Wrap(c *mongo.Collection) *Collection {
	return &Collection{coll: c}
}

// document is the stored record shape.
type document struct {
	Key     string    `bson:"key"`
	Value   any       `bson:"value"`
	Expires time.Time `bson:"expires"`
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.coll.Name() }

// FindOne returns one record matching f.
func (c *Collection) FindOne(ctx context.Context, f collection.Filter) (collection.Record, bool, error) {
	var doc document
	if err := c.coll.FindOne(ctx, toQuery(f)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return collection.Record{}, false, nil
		}
		return collection.Record{}, false, fmt.Errorf("mongo find: %w", err)
	}
	return collection.Record{Key: doc.Key, Value: doc.Value, Expires: doc.Expires}, true, nil
}

// Upsert sets value and expires on the record with r.Key, inserting it if missing.
func (c *Collection) Upsert(ctx context.Context, r collection.Record) error {
	// Marshal errors from the driver carry no sentinel, so check representability first.
	if _, err := bson.Marshal(bson.M{"value": r.Value}); err != nil {
		return fmt.Errorf("%w: %w", collection.ErrUnsupportedValue, err)
	}

	update := bson.M{"$set": bson.M{"value": r.Value, "expires": r.Expires}}
	if _, err := c.coll.UpdateOne(ctx, bson.M{"key": r.Key}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("mongo upsert: %w", err)
	}
	return nil
}

// Remove deletes every record matching f.
func (c *Collection) Remove(ctx context.Context, f collection.Filter) (int, error) {
	res, err := c.coll.DeleteMany(ctx, toQuery(f))
	if err != nil {
		return 0, fmt.Errorf("mongo delete: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Count returns the number of documents in the collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	n, err := c.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("mongo count: %w", err)
	}
	return int(n), nil
}

// CreateIndex ensures the {key: 1, expires: -1} index.
func (c *Collection) CreateIndex(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: IndexKeys()})
	if err != nil {
		return fmt.Errorf("mongo create index: %w", err)
	}
	return nil
}

// IndexKeys returns the compound index keys used by CreateIndex.
func IndexKeys() bson.D {
	return bson.D{{Key: "key", Value: 1}, {Key: "expires", Value: -1}}
}

// toQuery translates a filter into a MongoDB query document.
func toQuery(f collection.Filter) bson.D {
	q := bson.D{}
	switch {
	case f.Key != "" && f.Pattern != nil:
		q = append(q, bson.E{Key: "$and", Value: bson.A{
			bson.D{{Key: "key", Value: f.Key}},
			bson.D{{Key: "key", Value: primitive.Regex{Pattern: f.Pattern.String()}}},
		}})
	case f.Key != "":
		q = append(q, bson.E{Key: "key", Value: f.Key})
	case f.Pattern != nil:
		q = append(q, bson.E{Key: "key", Value: primitive.Regex{Pattern: f.Pattern.String()}})
	}

	var exp bson.D
	if !f.ExpiresAfter.IsZero() {
		exp = append(exp, bson.E{Key: "$gt", Value: f.ExpiresAfter})
	}
	if !f.ExpiredBy.IsZero() {
		exp = append(exp, bson.E{Key: "$lte", Value: f.ExpiredBy})
	}
	if len(exp) > 0 {
		q = append(q, bson.E{Key: "expires", Value: exp})
	}
	return q
}
