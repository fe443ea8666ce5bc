// Package user resolves external identities. The core only reads user
// records; a record that has not resolved yet falls back to a
// placeholder so message display never blocks on the users collection.
package user

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-core/internal/domain"
)

// Source reads a user record from the external identity store.
type Source interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Directory is a read-through cache over Source with redis-backed
// presence.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*domain.User

	source   Source
	presence *redis.Client // optional
	prefix   string
	log      *zap.SugaredLogger
}

func NewDirectory(source Source, presence *redis.Client, prefix string, log *zap.SugaredLogger) *Directory {
	return &Directory{
		users:    make(map[string]*domain.User),
		source:   source,
		presence: presence,
		prefix:   prefix,
		log:      log,
	}
}

// Get returns the cached user, fetching through on a miss. It never
// fails for display purposes: an unresolved record yields a
// placeholder and the error is logged.
func (d *Directory) Get(ctx context.Context, userID string) *domain.User {
	d.mu.RLock()
	u, ok := d.users[userID]
	d.mu.RUnlock()
	if ok {
		return u
	}

	u, err := d.source.GetUser(ctx, userID)
	if err != nil {
		d.log.Debugw("user lookup failed", "user_id", userID, "err", err)
		return domain.Placeholder(userID)
	}

	d.mu.Lock()
	d.users[userID] = u
	d.mu.Unlock()
	return u
}

// DisplayName resolves a user id to a label for notifications and
// previews.
func (d *Directory) DisplayName(ctx context.Context, userID string) string {
	return d.Get(ctx, userID).DisplayName
}

// SetOnline marks the user online in redis presence.
func (d *Directory) SetOnline(ctx context.Context, userID string) {
	if d.presence == nil {
		return
	}
	if err := d.presence.Set(ctx, d.presenceKey(userID), "1", 0).Err(); err != nil {
		d.log.Debugw("presence set failed", "user_id", userID, "err", err)
	}
}

// SetOffline marks the user offline and stamps lastSeen.
func (d *Directory) SetOffline(ctx context.Context, userID string) {
	if d.presence == nil {
		return
	}
	pipe := d.presence.TxPipeline()
	pipe.Set(ctx, d.presenceKey(userID), "0", 0)
	pipe.Set(ctx, d.lastSeenKey(userID), time.Now().UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		d.log.Debugw("presence clear failed", "user_id", userID, "err", err)
	}
}

// IsOnline reads presence; a missing key means offline.
func (d *Directory) IsOnline(ctx context.Context, userID string) bool {
	if d.presence == nil {
		return false
	}
	s, err := d.presence.Get(ctx, d.presenceKey(userID)).Result()
	if err != nil {
		return false
	}
	return s == "1"
}

// Forget drops a cached record so the next Get refetches it.
func (d *Directory) Forget(userID string) {
	d.mu.Lock()
	delete(d.users, userID)
	d.mu.Unlock()
}

func (d *Directory) presenceKey(userID string) string {
	return d.prefix + ":presence:" + userID
}

func (d *Directory) lastSeenKey(userID string) string {
	return d.prefix + ":last_seen:" + userID
}

// MongoSource reads the "users" collection.
type MongoSource struct {
	coll *mongo.Collection
}

func NewMongoSource(db *mongo.Database) *MongoSource {
	return &MongoSource{coll: db.Collection("users")}
}

func (s *MongoSource) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}
