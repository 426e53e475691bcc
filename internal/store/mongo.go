package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig selects the MongoDB deployment and database.
type MongoConfig struct {
	URL      string
	Database string
	Timeout  time.Duration
}

// Mongo is a Store backed by MongoDB. Identifiers are ObjectIDs, exposed to
// callers as hex strings.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	opts := options.Client().ApplyURI(cfg.URL)
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout).SetServerSelectionTimeout(cfg.Timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}
	return &Mongo{client: client, db: client.Database(cfg.Database)}, nil
}

// toID converts a string id to an ObjectID when it looks like one.
func toID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func (m *Mongo) Get(ctx context.Context, coll, id string) (Document, error) {
	var raw bson.M
	err := m.db.Collection(coll).FindOne(ctx, bson.M{IDField: toID(id)}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s %s: %w", coll, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", coll, id, err)
	}
	return fromBSON(raw), nil
}

func (m *Mongo) Query(ctx context.Context, coll string, params map[string]any) ([]Document, error) {
	cur, err := m.db.Collection(coll).Find(ctx, queryFilter(params))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll, err)
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("query %s: %w", coll, err)
	}
	out := make([]Document, 0, len(raws))
	for _, raw := range raws {
		out = append(out, fromBSON(raw))
	}
	return out, nil
}

func (m *Mongo) Add(ctx context.Context, coll string, doc Document) (Document, error) {
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	if id := stored.ID(); id != "" {
		stored[IDField] = toID(id)
	} else {
		delete(stored, IDField)
	}
	res, err := m.db.Collection(coll).InsertOne(ctx, bson.M(stored))
	if mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("%s: %w", coll, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", coll, err)
	}
	stored[IDField] = idString(res.InsertedID)
	return stored, nil
}

func (m *Mongo) Update(ctx context.Context, coll, id string, patch Document, create bool) (bool, Document, error) {
	set := bson.M{}
	for k, v := range patch {
		if k != IDField {
			set[k] = v
		}
	}
	if len(set) > 0 {
		res, err := m.db.Collection(coll).UpdateOne(ctx, bson.M{IDField: toID(id)},
			bson.M{"$set": set}, options.Update().SetUpsert(create))
		if err != nil {
			return false, nil, fmt.Errorf("update %s %s: %w", coll, id, err)
		}
		if res.MatchedCount == 0 && res.UpsertedCount == 0 {
			return false, nil, fmt.Errorf("%s %s: %w", coll, id, ErrNotFound)
		}
		doc, err := m.Get(ctx, coll, id)
		return res.MatchedCount > 0, doc, err
	}
	doc, err := m.Get(ctx, coll, id)
	if errors.Is(err, ErrNotFound) && create {
		doc, err = m.Add(ctx, coll, Document{IDField: id})
		return false, doc, err
	}
	return err == nil, doc, err
}

func (m *Mongo) UpdateEntry(ctx context.Context, coll string, ref EntryRef, patch Document, op EntryOp) (EntryResult, error) {
	c := m.db.Collection(coll)
	parentID := toID(ref.ParentID)

	switch op {
	case EntryMerge:
		set := bson.M{}
		for k, v := range patch {
			set[ref.Field+".$."+k] = v
		}
		set[ref.Field+".$."+ref.KeyField] = ref.Key
		filter := bson.M{
			IDField:   parentID,
			ref.Field: bson.M{"$elemMatch": entryFilter(ref)},
		}
		// The pre-image gives the prior entry; the post-image is derived
		// from it so that one atomic write serves both.
		var raw bson.M
		err := c.FindOneAndUpdate(ctx, filter, bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&raw)
		if errors.Is(err, mongo.ErrNoDocuments) {
			parent, err := m.Get(ctx, coll, ref.ParentID)
			return EntryResult{Parent: parent}, err
		}
		if err != nil {
			return EntryResult{}, fmt.Errorf("update %s %s.%s: %w", coll, ref.ParentID, ref.Field, err)
		}
		parent := fromBSON(raw)
		arr := entries(parent, ref.Field)
		for i, el := range arr {
			e, ok := el.(map[string]any)
			if !ok || !Equal(e[ref.KeyField], ref.Key) || !Matches(e, ref.Match) {
				continue
			}
			before := Document(e).Clone()
			after := MergeInto(before.Clone(), patch)
			after[ref.KeyField] = ref.Key
			arr[i] = map[string]any(after.Clone())
			return EntryResult{Matched: true, Before: before, After: after, Parent: parent}, nil
		}
		return EntryResult{Parent: parent}, nil

	case EntryAppendIfAbsent:
		entry := patch.Clone()
		if entry == nil {
			entry = Document{}
		}
		entry[ref.KeyField] = ref.Key
		filter := bson.M{IDField: parentID}
		filter[ref.Field+"."+ref.KeyField] = bson.M{"$ne": ref.Key}
		var raw bson.M
		err := c.FindOneAndUpdate(ctx, filter, bson.M{"$push": bson.M{ref.Field: bson.M(entry)}},
			options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&raw)
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the parent is missing or the entry already exists.
			parent, err := m.Get(ctx, coll, ref.ParentID)
			if err != nil {
				return EntryResult{}, err
			}
			existing := findEntry(parent, ref)
			return EntryResult{Matched: existing != nil, Before: existing, After: existing.Clone(), Parent: parent}, nil
		}
		if err != nil {
			return EntryResult{}, fmt.Errorf("append %s %s.%s: %w", coll, ref.ParentID, ref.Field, err)
		}
		parent := fromBSON(raw)
		return EntryResult{After: findEntry(parent, ref), Parent: parent}, nil

	case EntryDelete:
		var raw bson.M
		err := c.FindOneAndUpdate(ctx, bson.M{IDField: parentID},
			bson.M{"$pull": bson.M{ref.Field: bson.M{ref.KeyField: ref.Key}}},
			options.FindOneAndUpdate().SetReturnDocument(options.Before)).Decode(&raw)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return EntryResult{}, fmt.Errorf("%s %s: %w", coll, ref.ParentID, ErrNotFound)
		}
		if err != nil {
			return EntryResult{}, fmt.Errorf("pull %s %s.%s: %w", coll, ref.ParentID, ref.Field, err)
		}
		prior := fromBSON(raw)
		before := findEntry(prior, ref)
		parent := prior.Clone()
		kept := []any{}
		for _, el := range entries(parent, ref.Field) {
			if e, ok := el.(map[string]any); ok && Equal(e[ref.KeyField], ref.Key) {
				continue
			}
			kept = append(kept, el)
		}
		parent[ref.Field] = kept
		return EntryResult{Matched: before != nil, Before: before, Parent: parent}, nil
	}
	return EntryResult{}, fmt.Errorf("unknown entry operation %d", op)
}

func (m *Mongo) Delete(ctx context.Context, coll, id string) error {
	if _, err := m.db.Collection(coll).DeleteOne(ctx, bson.M{IDField: toID(id)}); err != nil {
		return fmt.Errorf("delete %s %s: %w", coll, id, err)
	}
	return nil
}

func (m *Mongo) Merge(ctx context.Context, coll string, candidate Document, searchBy [][]string) (bool, string, error) {
	set := bson.M{}
	for k, v := range candidate {
		if k != IDField {
			set[k] = v
		}
	}
	for _, fields := range searchBy {
		params, ok := searchParams(candidate, fields)
		if !ok {
			continue
		}
		var raw bson.M
		err := m.db.Collection(coll).FindOneAndUpdate(ctx, bson.M(params), bson.M{"$set": set}).Decode(&raw)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("merge %s: %w", coll, err)
		}
		return true, idString(raw[IDField]), nil
	}
	stored, err := m.Add(ctx, coll, candidate)
	if err != nil {
		return false, "", err
	}
	return false, stored.ID(), nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// queryFilter converts an equality filter to BSON. Identifier values are
// converted to ObjectIDs.
func queryFilter(params map[string]any) bson.M {
	filter := bson.M{}
	for k, v := range params {
		if s, ok := v.(string); ok && k == IDField {
			filter[k] = toID(s)
			continue
		}
		filter[k] = v
	}
	return filter
}

// entryFilter is the $elemMatch body selecting the addressed entry.
func entryFilter(ref EntryRef) bson.M {
	f := bson.M{ref.KeyField: ref.Key}
	for k, v := range ref.Match {
		if k != ref.KeyField {
			f[k] = v
		}
	}
	return f
}

func findEntry(parent Document, ref EntryRef) Document {
	for _, el := range entries(parent, ref.Field) {
		if e, ok := el.(map[string]any); ok && Equal(e[ref.KeyField], ref.Key) {
			return Document(e).Clone()
		}
	}
	return nil
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// fromBSON converts a decoded BSON document into plain JSON-compatible values.
func fromBSON(raw bson.M) Document {
	doc := make(Document, len(raw))
	for k, v := range raw {
		doc[k] = fromBSONValue(v)
	}
	if id, ok := raw[IDField]; ok {
		doc[IDField] = idString(id)
	}
	return doc
}

func fromBSONValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return map[string]any(fromBSON(t))
	case map[string]any:
		return map[string]any(fromBSON(bson.M(t)))
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = fromBSONValue(e.Value)
		}
		return m
	case primitive.A:
		return fromBSONValue([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = fromBSONValue(el)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	}
	return v
}
