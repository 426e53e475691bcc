package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFromBSON(t *testing.T) {
	oid := primitive.NewObjectID()
	raw := bson.M{
		"_id":   oid,
		"seats": int32(4),
		"when":  primitive.NewDateTimeFromTime(time.Date(2015, 5, 1, 9, 0, 0, 0, time.UTC)),
		"persons": primitive.A{
			bson.M{"person_id": "p1", "nested": primitive.D{{Key: "k", Value: int64(2)}}},
		},
	}
	doc := fromBSON(raw)
	assert.Equal(t, oid.Hex(), doc.ID())
	assert.Equal(t, float64(4), doc["seats"])
	assert.Equal(t, "2015-05-01T09:00:00Z", doc["when"])
	persons := doc["persons"].([]any)
	entry := persons[0].(map[string]any)
	assert.Equal(t, "p1", entry["person_id"])
	assert.Equal(t, map[string]any{"k": float64(2)}, entry["nested"])
}

func TestToID(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid, toID(oid.Hex()))
	assert.Equal(t, "plain-id", toID("plain-id"))
}

func TestEntryFilter(t *testing.T) {
	ref := EntryRef{KeyField: "person_id", Key: "p1", Match: map[string]any{"company": "Acme", "person_id": "ignored"}}
	assert.Equal(t, bson.M{"person_id": "p1", "company": "Acme"}, entryFilter(ref))
}

// TestMongo_Integration runs against a live server when
// EVENTMAN_TEST_MONGODB_URL is set.
func TestMongo_Integration(t *testing.T) {
	url := os.Getenv("EVENTMAN_TEST_MONGODB_URL")
	if url == "" {
		t.Skip("EVENTMAN_TEST_MONGODB_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m, err := NewMongo(ctx, MongoConfig{URL: url, Database: "eventman_test_" + primitive.NewObjectID().Hex(), Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer func() {
		_ = m.db.Drop(ctx)
		_ = m.Close(ctx)
	}()

	ev, err := m.Add(ctx, "events", Document{"title": "Meetup"})
	require.NoError(t, err)
	ref := EntryRef{ParentID: ev.ID(), Field: "persons", KeyField: "person_id", Key: "p1"}

	res, err := m.UpdateEntry(ctx, "events", ref, Document{"company": "Acme"}, EntryAppendIfAbsent)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	res, err = m.UpdateEntry(ctx, "events", ref, Document{"company": "Other"}, EntryAppendIfAbsent)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "Acme", res.After["company"])

	res, err = m.UpdateEntry(ctx, "events", ref, Document{"attended": true}, EntryMerge)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Nil(t, res.Before["attended"])
	assert.Equal(t, true, res.After["attended"])

	found, err := m.Query(ctx, "events", map[string]any{"persons.person_id": "p1"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	res, err = m.UpdateEntry(ctx, "events", ref, nil, EntryDelete)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	got, err := m.Get(ctx, "events", ev.ID())
	require.NoError(t, err)
	assert.Empty(t, got["persons"])

	merged, doc, err := m.Update(ctx, "events", ev.ID(), Document{"title": "Meetup #2"}, false)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, "Meetup #2", doc["title"])

	require.NoError(t, m.Delete(ctx, "events", ev.ID()))
	require.NoError(t, m.Delete(ctx, "events", ev.ID()))
	_, err = m.Get(ctx, "events", ev.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}
