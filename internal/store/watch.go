package store

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-core/internal/domain"
)

// Watch tails the messages collection change stream and hands every
// observed document to apply. This is how writes from other
// participants' devices reach the local cache; apply is expected to
// merge, not replace. Blocks until ctx is cancelled.
func (b *MongoBackend) Watch(ctx context.Context, apply func(*domain.Message)) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := b.coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return wrap(err)
	}
	defer cs.Close(ctx)

	for cs.Next(ctx) {
		var ev struct {
			FullDocument domain.Message `bson:"fullDocument"`
		}
		if err := cs.Decode(&ev); err != nil {
			continue
		}
		if ev.FullDocument.ID != "" {
			apply(&ev.FullDocument)
		}
	}
	return wrap(cs.Err())
}
