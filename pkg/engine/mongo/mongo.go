// Package mongo implements the document engine for MongoDB. Queries are
// structured find requests (collection + filter), never free-form commands,
// which keeps the routed path read-only by construction.
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/engine"
	"github.com/easydata-inc/easydata-engine/pkg/vault"
)

func init() {
	engine.Register(&mongoEngine{})
}

// sampleSize is how many documents are examined per collection when
// inferring field descriptors during introspection.
const sampleSize = 10

type mongoEngine struct{}

func (e *mongoEngine) Type() string          { return "mongodb" }
func (e *mongoEngine) Family() engine.Family { return engine.FamilyDocument }

type mongoHandle struct {
	client   *mongo.Client
	database string
}

func (h *mongoHandle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx, nil)
}

func (e *mongoEngine) Open(ctx context.Context, creds *vault.Credentials) (engine.Handle, error) {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d/%s",
		url.QueryEscape(creds.Username), url.QueryEscape(creds.Password),
		creds.Host, creds.Port, creds.Database)
	if creds.Options["ssl"] == "true" {
		uri += "?ssl=true"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEngineUnreachable, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEngineUnreachable, err)
	}

	return &mongoHandle{client: client, database: creds.Database}, nil
}

func (e *mongoEngine) Close(ctx context.Context, h engine.Handle) error {
	handle, ok := h.(*mongoHandle)
	if !ok {
		return fmt.Errorf("mongodb engine received foreign handle %T", h)
	}
	return handle.client.Disconnect(ctx)
}

// Query runs a bounded Find against the request's collection. Mutating
// operations have no representation in the request shape; anything other
// than a find is rejected upstream by ParseDocumentRequest.
func (e *mongoEngine) Query(ctx context.Context, h engine.Handle, req *engine.Request) (*engine.Rows, error) {
	handle, ok := h.(*mongoHandle)
	if !ok {
		return nil, fmt.Errorf("mongodb engine received foreign handle %T", h)
	}
	if req.Collection == "" {
		return nil, fmt.Errorf("document request missing collection")
	}

	filter := bson.M(req.Filter)
	if filter == nil {
		filter = bson.M{}
	}

	findOpts := options.Find().SetLimit(int64(req.EffectiveLimit()))
	if len(req.Projection) > 0 {
		findOpts.SetProjection(bson.M(req.Projection))
	}

	coll := handle.client.Database(handle.database).Collection(req.Collection)
	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("execute find: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	result := &engine.Rows{
		Rows: make([]map[string]any, 0, len(docs)),
	}
	columnSet := make(map[string]bool)

	for _, doc := range docs {
		row := make(map[string]any, len(doc))
		for k, v := range doc {
			row[k] = v
			columnSet[k] = true
		}
		result.Rows = append(result.Rows, row)
	}

	result.Columns = make([]string, 0, len(columnSet))
	for col := range columnSet {
		result.Columns = append(result.Columns, col)
	}
	sort.Strings(result.Columns)
	result.RowCount = len(result.Rows)

	return result, nil
}

// Introspect lists collections and infers field descriptors by sampling
// documents, since document stores carry no catalog.
func (e *mongoEngine) Introspect(ctx context.Context, h engine.Handle) ([]engine.TableDescriptor, error) {
	handle, ok := h.(*mongoHandle)
	if !ok {
		return nil, fmt.Errorf("mongodb engine received foreign handle %T", h)
	}

	db := handle.client.Database(handle.database)
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	tables := make([]engine.TableDescriptor, 0, len(names))
	for _, name := range names {
		fields, err := e.sampleFields(ctx, db.Collection(name))
		if err != nil {
			return nil, fmt.Errorf("sample collection %s: %w", name, err)
		}
		tables = append(tables, engine.TableDescriptor{Name: name, Columns: fields})
	}
	return tables, nil
}

func (e *mongoEngine) sampleFields(ctx context.Context, coll *mongo.Collection) ([]engine.ColumnDescriptor, error) {
	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetLimit(sampleSize))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	// A field is nullable if any sampled document omits it.
	seen := make(map[string]int)
	types := make(map[string]string)
	for _, doc := range docs {
		for k, v := range doc {
			seen[k]++
			if _, ok := types[k]; !ok {
				types[k] = fmt.Sprintf("%T", v)
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]engine.ColumnDescriptor, 0, len(names))
	for _, name := range names {
		fields = append(fields, engine.ColumnDescriptor{
			Name:       name,
			DataType:   types[name],
			IsNullable: seen[name] < len(docs),
		})
	}
	return fields, nil
}

// Ensure mongoEngine implements Engine at compile time.
var _ engine.Engine = (*mongoEngine)(nil)
