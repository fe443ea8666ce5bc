package registry

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

// MongoBackend persists chats in a "chats" collection.
type MongoBackend struct {
	coll *mongo.Collection
}

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	coll := db.Collection("chats")
	ix := mongo.IndexModel{
		Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
		Options: options.Index().SetName("participants_updated_idx"),
	}
	_, _ = coll.Indexes().CreateOne(context.Background(), ix)
	return &MongoBackend{coll: coll}
}

func (b *MongoBackend) InsertChat(ctx context.Context, c *domain.Chat) error {
	filter := bson.M{"_id": c.ID}
	update := bson.M{"$setOnInsert": c}
	opts := options.Update().SetUpsert(true)
	_, err := b.coll.UpdateOne(ctx, filter, update, opts)
	return wrap(err)
}

func (b *MongoBackend) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	var c domain.Chat
	if err := b.coll.FindOne(ctx, bson.M{"_id": chatID}).Decode(&c); err != nil {
		return nil, wrap(err)
	}
	return &c, nil
}

func (b *MongoBackend) FindDirect(ctx context.Context, a, userB string) (*domain.Chat, error) {
	filter := bson.M{
		"is_group":     false,
		"participants": bson.M{"$all": []string{a, userB}, "$size": 2},
	}
	var c domain.Chat
	if err := b.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, wrap(err)
	}
	return &c, nil
}

func (b *MongoBackend) AddParticipants(ctx context.Context, chatID string, userIDs []string, updatedAt time.Time) error {
	update := bson.M{
		"$addToSet": bson.M{"participants": bson.M{"$each": userIDs}},
		"$set":      bson.M{"updated_at": updatedAt},
	}
	_, err := b.coll.UpdateByID(ctx, chatID, update)
	return wrap(err)
}

func (b *MongoBackend) RemoveParticipant(ctx context.Context, chatID, userID string, updatedAt time.Time) error {
	update := bson.M{
		"$pull": bson.M{"participants": userID, "admins": userID},
		"$set":  bson.M{"updated_at": updatedAt},
	}
	_, err := b.coll.UpdateByID(ctx, chatID, update)
	return wrap(err)
}

func (b *MongoBackend) SetGroupName(ctx context.Context, chatID, name string, updatedAt time.Time) error {
	_, err := b.coll.UpdateByID(ctx, chatID, bson.M{"$set": bson.M{"group_name": name, "updated_at": updatedAt}})
	return wrap(err)
}

func (b *MongoBackend) SetLastMessage(ctx context.Context, chatID string, lm *domain.LastMessage, updatedAt time.Time) error {
	// conditional write: an out-of-order listener never regresses the
	// pointer to an older message.
	filter := bson.M{
		"_id": chatID,
		"$or": []bson.M{
			{"last_message": bson.M{"$exists": false}},
			{"last_message": nil},
			{"last_message.created_at": bson.M{"$lte": lm.CreatedAt}},
		},
	}
	update := bson.M{"$set": bson.M{"last_message": lm}, "$max": bson.M{"updated_at": updatedAt}}
	_, err := b.coll.UpdateOne(ctx, filter, update)
	return wrap(err)
}

func (b *MongoBackend) DeleteChat(ctx context.Context, chatID string) error {
	_, err := b.coll.DeleteOne(ctx, bson.M{"_id": chatID})
	return wrap(err)
}

func (b *MongoBackend) ListForUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := b.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, wrap(err)
	}
	defer cur.Close(ctx)

	var out []*domain.Chat
	for cur.Next(ctx) {
		var c domain.Chat
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, wrap(cur.Err())
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFoundf("chat: %v", err)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(err)
	}
	return err
}
