package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/singleflight"

	"github.com/anonchat/anonchat/internal/types"
)

const (
	messagesCollection = "messages"
	roomsCollection    = "rooms"

	// retention drives the TTL indexes: messages expire this long after
	// creation, rooms this long after their last activity.
	retention = 24 * time.Hour

	connectTimeout = 10 * time.Second
)

type MongoRepository struct {
	log       zerolog.Logger
	uri       string
	dbName    string
	staleness time.Duration

	mu     sync.Mutex
	client *mongo.Client
	group  singleflight.Group
}

// NewMongoRepository prepares a lazily connected repository. The first call
// that needs the database dials it; concurrent callers during an in-flight
// dial await the same attempt.
func NewMongoRepository(log zerolog.Logger, uri, dbName string, staleness time.Duration) *MongoRepository {
	return &MongoRepository{
		log:       log,
		uri:       uri,
		dbName:    dbName,
		staleness: staleness,
	}
}

func (r *MongoRepository) database(ctx context.Context) (*mongo.Database, error) {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client != nil {
		return client.Database(r.dbName), nil
	}

	v, err, _ := r.group.Do("connect", func() (any, error) {
		dialCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		r.log.Info().Str("db", r.dbName).Msg("connecting to mongodb")
		client, err := mongo.Connect(dialCtx, options.Client().
			ApplyURI(r.uri).
			SetServerSelectionTimeout(5*time.Second))
		if err != nil {
			return nil, err
		}

		if err := client.Ping(dialCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}

		if err := ensureIndexes(dialCtx, client.Database(r.dbName)); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}

		r.mu.Lock()
		r.client = client
		r.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return v.(*mongo.Client).Database(r.dbName), nil
}

// invalidate drops the cached client handle after a transport-level error so
// the next call redials from scratch.
func (r *MongoRepository) invalidate(err error) {
	if !isTransient(err) {
		return
	}

	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client != nil {
		r.log.Warn().Err(err).Msg("dropping mongodb connection after transport error")
		go func() { _ = client.Disconnect(context.Background()) }()
	}
}

func isTransient(err error) bool {
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

// wrap classifies a driver error into the store taxonomy, invalidating the
// cached connection for transport errors.
func (r *MongoRepository) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if isTransient(err) {
		r.invalidate(err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(messagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "createdAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
		{
			Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}

	_, err = db.Collection(roomsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "lastActive", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
		{
			Keys: bson.D{{Key: "inviteLinks.code", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("room indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	db, err := r.database(ctx)
	if err != nil {
		return err
	}
	return r.wrap(db.Client().Ping(ctx, nil))
}

func (r *MongoRepository) Close(ctx context.Context) error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

func (r *MongoRepository) SaveMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	db, err := r.database(ctx)
	if err != nil {
		return types.Message{}, err
	}

	roomID, err := primitive.ObjectIDFromHex(msg.RoomID)
	if err != nil {
		return types.Message{}, ErrNotFound
	}

	now := types.Now()

	// bump the owning room's lastActive first; a message against a missing
	// (or expired) room is rejected rather than orphaned
	res, err := db.Collection(roomsCollection).UpdateByID(ctx, roomID,
		bson.M{"$set": bson.M{"lastActive": now}})
	if err != nil {
		return types.Message{}, r.wrap(err)
	}
	if res.MatchedCount == 0 {
		return types.Message{}, ErrNotFound
	}

	doc := messageDoc{
		RoomID:    roomID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		UserEmoji: msg.UserEmoji,
		Content:   msg.Content,
		CreatedAt: now,
	}

	ir, err := db.Collection(messagesCollection).InsertOne(ctx, doc)
	if err != nil {
		return types.Message{}, r.wrap(err)
	}

	doc.ID = ir.InsertedID.(primitive.ObjectID)
	return doc.toMessage(), nil
}

func (r *MongoRepository) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]types.Message, error) {
	db, err := r.database(ctx)
	if err != nil {
		return nil, err
	}

	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, ErrNotFound
	}

	// newest first under the limit, then reversed, so the caller gets the
	// most recent window in ascending order
	cur, err := db.Collection(messagesCollection).Find(ctx,
		bson.M{"roomId": oid},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, r.wrap(err)
	}

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, r.wrap(err)
	}

	messages := make([]types.Message, len(docs))
	for i, doc := range docs {
		messages[len(docs)-1-i] = doc.toMessage()
	}
	return messages, nil
}

func (r *MongoRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	db, err := r.database(ctx)
	if err != nil {
		return types.Room{}, err
	}

	now := types.Now()
	doc := roomDoc{
		Name:       params.Name,
		CreatorID:  params.CreatorID,
		IsPrivate:  params.IsPrivate,
		LastActive: now,
		CreatedAt:  now,
	}

	ir, err := db.Collection(roomsCollection).InsertOne(ctx, doc)
	if err != nil {
		return types.Room{}, r.wrap(err)
	}

	doc.ID = ir.InsertedID.(primitive.ObjectID)
	return doc.toRoom(), nil
}

func (r *MongoRepository) GetRoom(ctx context.Context, roomID string) (types.Room, error) {
	db, err := r.database(ctx)
	if err != nil {
		return types.Room{}, err
	}

	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return types.Room{}, ErrNotFound
	}

	var doc roomDoc
	if err := db.Collection(roomsCollection).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return types.Room{}, r.wrap(err)
	}

	// cleanup is lazy: prune on read and write back only when something
	// actually aged out
	if doc.pruneActiveUsers(r.staleness, types.Now()) {
		if _, err := db.Collection(roomsCollection).UpdateByID(ctx, oid,
			bson.M{"$set": bson.M{"activeUsers": doc.ActiveUsers}}); err != nil {
			r.log.Warn().Err(err).Str("room", roomID).Msg("failed to persist active-user prune")
		}
	}

	return doc.toRoom(), nil
}

func (r *MongoRepository) ListRooms(ctx context.Context, limit int) ([]types.Room, error) {
	db, err := r.database(ctx)
	if err != nil {
		return nil, err
	}

	cur, err := db.Collection(roomsCollection).Find(ctx,
		bson.M{"isPrivate": false, "isPersonal": bson.M{"$ne": true}},
		options.Find().SetSort(bson.D{{Key: "lastActive", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, r.wrap(err)
	}

	var docs []roomDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, r.wrap(err)
	}

	rooms := make([]types.Room, len(docs))
	for i, doc := range docs {
		rooms[i] = doc.toRoom()
	}
	return rooms, nil
}

func (r *MongoRepository) CreatePersonalRoom(ctx context.Context, params PersonalRoomParams) (types.Room, error) {
	db, err := r.database(ctx)
	if err != nil {
		return types.Room{}, err
	}

	// one personal room per participant pair, regardless of who initiated
	pair := bson.A{
		bson.M{"p1.id": params.P1.ID, "p2.id": params.P2.ID},
		bson.M{"p1.id": params.P2.ID, "p2.id": params.P1.ID},
	}
	var existing roomDoc
	err = db.Collection(roomsCollection).FindOne(ctx,
		bson.M{"isPersonal": true, "$or": pair}).Decode(&existing)
	if err == nil {
		return existing.toRoom(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return types.Room{}, r.wrap(err)
	}

	now := types.Now()
	doc := roomDoc{
		Name:       fmt.Sprintf("%s & %s", params.P1.Name, params.P2.Name),
		CreatorID:  params.P1.ID,
		IsPrivate:  true,
		IsPersonal: true,
		P1:         &participantDoc{ID: params.P1.ID, Name: params.P1.Name, Emoji: params.P1.Emoji},
		P2:         &participantDoc{ID: params.P2.ID, Name: params.P2.Name, Emoji: params.P2.Emoji},
		LastActive: now,
		CreatedAt:  now,
	}

	ir, err := db.Collection(roomsCollection).InsertOne(ctx, doc)
	if err != nil {
		return types.Room{}, r.wrap(err)
	}

	doc.ID = ir.InsertedID.(primitive.ObjectID)
	return doc.toRoom(), nil
}

func (r *MongoRepository) AddInvite(ctx context.Context, roomID, code string, oneTime bool) error {
	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return ErrNotFound
	}

	res, err := db.Collection(roomsCollection).UpdateByID(ctx, oid, bson.M{
		"$push": bson.M{"inviteLinks": inviteDoc{
			Code:      code,
			IsOneTime: oneTime,
			CreatedAt: types.Now(),
		}},
	})
	if err != nil {
		return r.wrap(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) ConsumeInvite(ctx context.Context, code, userID string) (types.Room, error) {
	db, err := r.database(ctx)
	if err != nil {
		return types.Room{}, err
	}

	var doc roomDoc
	if err := db.Collection(roomsCollection).FindOne(ctx,
		bson.M{"inviteLinks.code": code}).Decode(&doc); err != nil {
		return types.Room{}, r.wrap(err)
	}

	for _, invite := range doc.InviteLinks {
		if invite.Code != code {
			continue
		}
		if invite.IsOneTime && len(invite.UsedBy) > 0 && invite.UsedBy[0] != userID {
			return types.Room{}, ErrInviteConsumed
		}
		_, err := db.Collection(roomsCollection).UpdateOne(ctx,
			bson.M{"_id": doc.ID, "inviteLinks.code": code},
			bson.M{"$addToSet": bson.M{"inviteLinks.$.usedBy": userID}})
		if err != nil {
			return types.Room{}, r.wrap(err)
		}
		return doc.toRoom(), nil
	}

	return types.Room{}, ErrNotFound
}

func (r *MongoRepository) HeartbeatActiveUser(ctx context.Context, roomID string, user types.ActiveUser) ([]types.ActiveUser, error) {
	db, err := r.database(ctx)
	if err != nil {
		return nil, err
	}

	oid, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc roomDoc
	if err := db.Collection(roomsCollection).FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, r.wrap(err)
	}

	now := types.Now()
	doc.pruneActiveUsers(r.staleness, now)
	if doc.ActiveUsers == nil {
		doc.ActiveUsers = make(map[string]activeUserDoc)
	}
	doc.ActiveUsers[user.UserID] = activeUserDoc{
		UserID:     user.UserID,
		UserName:   user.UserName,
		UserEmoji:  user.UserEmoji,
		LastActive: now,
	}

	if _, err := db.Collection(roomsCollection).UpdateByID(ctx, oid,
		bson.M{"$set": bson.M{"activeUsers": doc.ActiveUsers}}); err != nil {
		return nil, r.wrap(err)
	}

	return doc.activeUserList(), nil
}
