package registry

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-core/internal/domain"
)

// Watch tails the chats collection change stream, merging membership
// and pointer updates made by other participants' devices. Blocks
// until ctx is cancelled.
func (b *MongoBackend) Watch(ctx context.Context, apply func(*domain.Chat)) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := b.coll.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return wrap(err)
	}
	defer cs.Close(ctx)

	for cs.Next(ctx) {
		var ev struct {
			FullDocument domain.Chat `bson:"fullDocument"`
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
