package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-core/internal/apperr"
	"github.com/fathima-sithara/chat-core/internal/domain"
)

// MongoBackend persists messages in a "messages" collection. Array
// fields are always mutated with $addToSet/$pull so concurrent writers
// from other devices merge instead of clobbering each other.
type MongoBackend struct {
	coll *mongo.Collection
}

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	coll := db.Collection("messages")
	ix := mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("chat_created_idx"),
	}
	_, _ = coll.Indexes().CreateOne(context.Background(), ix)
	return &MongoBackend{coll: coll}
}

func (b *MongoBackend) InsertMessage(ctx context.Context, m *domain.Message) error {
	filter := bson.M{"_id": m.ID}
	update := bson.M{"$setOnInsert": m}
	opts := options.Update().SetUpsert(true)
	_, err := b.coll.UpdateOne(ctx, filter, update, opts)
	return wrap(err)
}

func (b *MongoBackend) AdvanceDeliveryState(ctx context.Context, messageID string, state domain.DeliveryState) error {
	// filter on earlier states only, so a concurrent writer that got
	// there first wins and this update matches nothing.
	filter := bson.M{"_id": messageID, "delivery_state": bson.M{"$in": earlierStates(state)}}
	_, err := b.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"delivery_state": state}})
	return wrap(err)
}

func earlierStates(s domain.DeliveryState) []domain.DeliveryState {
	all := []domain.DeliveryState{domain.StateSending, domain.StateSent, domain.StateDelivered, domain.StateRead}
	out := []domain.DeliveryState{}
	for _, st := range all {
		if st == s {
			break
		}
		out = append(out, st)
	}
	if s == domain.StateSending {
		// retry edge
		out = append(out, domain.StateFailed)
	}
	return out
}

func (b *MongoBackend) AddReadReceipt(ctx context.Context, messageID, userID string) error {
	_, err := b.coll.UpdateByID(ctx, messageID, bson.M{"$addToSet": bson.M{"read_by": userID}})
	return wrap(err)
}

func (b *MongoBackend) SwapReaction(ctx context.Context, messageID, userID, oldSymbol, newSymbol string) error {
	if oldSymbol != "" {
		if _, err := b.coll.UpdateByID(ctx, messageID, bson.M{"$pull": bson.M{"reactions." + oldSymbol: userID}}); err != nil {
			return wrap(err)
		}
	}
	if newSymbol != "" {
		if _, err := b.coll.UpdateByID(ctx, messageID, bson.M{"$addToSet": bson.M{"reactions." + newSymbol: userID}}); err != nil {
			return wrap(err)
		}
	}
	return nil
}

func (b *MongoBackend) SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	_, err := b.coll.UpdateByID(ctx, messageID, bson.M{"$set": bson.M{"content": content, "edited_at": editedAt}})
	return wrap(err)
}

func (b *MongoBackend) AddSoftDelete(ctx context.Context, messageID, userID string) error {
	_, err := b.coll.UpdateByID(ctx, messageID, bson.M{"$addToSet": bson.M{"deleted_for": userID}})
	return wrap(err)
}

func (b *MongoBackend) ListMessages(ctx context.Context, chatID string) ([]*domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := b.coll.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, wrap(err)
	}
	defer cur.Close(ctx)

	var out []*domain.Message
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, wrap(cur.Err())
}

func (b *MongoBackend) PurgeChat(ctx context.Context, chatID string) error {
	_, err := b.coll.DeleteMany(ctx, bson.M{"chat_id": chatID})
	return wrap(err)
}

// wrap classifies driver errors into the shared taxonomy. Anything the
// driver reports as a timeout or network problem is transient and
// retried by the caller.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFoundf("document: %v", err)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(err)
	}
	return err
}
