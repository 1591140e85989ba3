// Package mongo stores chat state in MongoDB, one collection per aggregate.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

const (
	colUsers             = "users"
	colBroadcastMessages = "broadcast_messages"
	colPrivateMessages   = "private_messages"
	colGroups            = "groups"
	colGroupMessages     = "group_messages"
	colChatClears        = "chat_clears"
)

// Store is a MongoDB implementation of storage.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for message and marker timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Username  string             `bson:"username"`
	PassHash  string             `bson:"passHash"`
	Status    string             `bson:"status"`
	LastSeen  *time.Time         `bson:"lastSeen"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type messageDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	TS             int64              `bson:"ts"`
	Sender         string             `bson:"sender"`
	Receiver       string             `bson:"receiver,omitempty"`
	ConversationID string             `bson:"conversationId,omitempty"`
	GroupID        string             `bson:"groupId,omitempty"`
	Content        string             `bson:"content"`
}

type groupDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Name      string             `bson:"name"`
	Members   []string           `bson:"members"`
	CreatedAt time.Time          `bson:"createdAt"`
	CreatedBy string             `bson:"createdBy"`
}

type clearDoc struct {
	Key       string `bson:"key"`
	User      string `bson:"user"`
	Scope     string `bson:"scope"`
	ChatID    string `bson:"chatId"`
	ClearedAt int64  `bson:"clearedAt"`
}

// NewStore connects to the configured MongoDB deployment.
func NewStore(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{
		client: client,
		db:     client.Database(cfg.MongoDB),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Migrate creates the indexes the queries rely on. Safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colBroadcastMessages: {
			{Keys: bson.D{{Key: "ts", Value: 1}}},
		},
		colPrivateMessages: {
			{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "ts", Value: 1}}},
			{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "ts", Value: 1}}},
		},
		colGroups: {
			{Keys: bson.D{{Key: "members", Value: 1}}},
			{Keys: bson.D{{Key: "name", Value: 1}}},
		},
		colGroupMessages: {
			{Keys: bson.D{{Key: "groupId", Value: 1}, {Key: "ts", Value: 1}}},
		},
		colChatClears: {
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "scope", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("index %s: %w", name, err)
		}
	}
	return nil
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	doc := userDoc{
		Username:  user.Username,
		PassHash:  user.Password,
		Status:    "offline",
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	res, err := s.db.Collection(colUsers).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return storage.ErrUserExists
		}
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		user.ID = oid.Hex()
	}
	return nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var doc userDoc
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	user := &storage.User{
		ID:        doc.ID.Hex(),
		Username:  doc.Username,
		Password:  doc.PassHash,
		Online:    doc.Status == "online",
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.LastSeen != nil {
		user.LastSeen = *doc.LastSeen
	}
	return user, nil
}

// AllUsernamesExcept lists every registered username other than the given one.
func (s *Store) AllUsernamesExcept(ctx context.Context, username string) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"username": 1}).
		SetSort(bson.D{{Key: "username", Value: 1}})
	cur, err := s.db.Collection(colUsers).Find(ctx, bson.M{"username": bson.M{"$ne": username}}, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Username)
	}
	return names, nil
}

// MarkOnline flags the user as connected.
func (s *Store) MarkOnline(ctx context.Context, username string) error {
	_, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{"status": "online"}})
	return err
}

// MarkOffline flags the user as disconnected and records last-seen.
func (s *Store) MarkOffline(ctx context.Context, username string) error {
	_, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{"status": "offline", "lastSeen": s.now().UTC()}})
	return err
}

// ResetPresence marks every user offline.
func (s *Store) ResetPresence(ctx context.Context) error {
	_, err := s.db.Collection(colUsers).UpdateMany(ctx,
		bson.M{},
		bson.M{"$set": bson.M{"status": "offline"}})
	return err
}

// SaveBroadcast appends a message to the global channel.
func (s *Store) SaveBroadcast(ctx context.Context, sender, content string) (storage.Message, error) {
	doc := messageDoc{TS: s.now().UnixMilli(), Sender: sender, Content: content}
	return s.insertMessage(ctx, colBroadcastMessages, storage.ScopeBroadcast, "", doc)
}

// SavePrivate appends a message to the conversation between sender and receiver.
func (s *Store) SavePrivate(ctx context.Context, sender, receiver, content string) (storage.Message, error) {
	conv := storage.ConversationID(sender, receiver)
	doc := messageDoc{
		TS:             s.now().UnixMilli(),
		Sender:         sender,
		Receiver:       receiver,
		ConversationID: conv,
		Content:        content,
	}
	return s.insertMessage(ctx, colPrivateMessages, storage.ScopePrivate, conv, doc)
}

// SaveGroupMessage appends a message to a group's history.
func (s *Store) SaveGroupMessage(ctx context.Context, groupID, sender, content string) (storage.Message, error) {
	doc := messageDoc{TS: s.now().UnixMilli(), Sender: sender, GroupID: groupID, Content: content}
	return s.insertMessage(ctx, colGroupMessages, storage.ScopeGroup, groupID, doc)
}

func (s *Store) insertMessage(ctx context.Context, col string, scope storage.Scope, chatID string, doc messageDoc) (storage.Message, error) {
	doc.ID = primitive.NewObjectID()
	if _, err := s.db.Collection(col).InsertOne(ctx, doc); err != nil {
		return storage.Message{}, err
	}
	return toMessage(scope, chatID, doc), nil
}

// LoadHistory returns the visible tail of one chat for q.ForUser.
func (s *Store) LoadHistory(ctx context.Context, q storage.HistoryQuery) ([]storage.Message, error) {
	cutoff, err := s.EffectiveClearedAt(ctx, q.ForUser, q.Scope, q.ChatID)
	if err != nil {
		return nil, err
	}

	var (
		col    string
		chatID string
		filter = bson.M{"ts": bson.M{"$gt": cutoff}}
	)
	switch q.Scope {
	case storage.ScopeBroadcast:
		col = colBroadcastMessages
	case storage.ScopePrivate:
		col = colPrivateMessages
		chatID = storage.ConversationID(q.ForUser, q.ChatID)
		filter["conversationId"] = chatID
	case storage.ScopeGroup:
		col = colGroupMessages
		chatID = q.ChatID
		filter["groupId"] = chatID
	default:
		return nil, fmt.Errorf("history scope %q not supported", q.Scope)
	}

	limit := int64(q.Limit)
	if limit < 1 {
		limit = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "ts", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)
	cur, err := s.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]storage.Message, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = toMessage(q.Scope, chatID, d)
	}
	return out, nil
}

func toMessage(scope storage.Scope, chatID string, d messageDoc) storage.Message {
	return storage.Message{
		ID:        d.ID.Hex(),
		Scope:     scope,
		ChatID:    chatID,
		Sender:    d.Sender,
		Receiver:  d.Receiver,
		Content:   d.Content,
		Timestamp: d.TS,
	}
}

// CreateGroup persists a group with the creator always included as a member.
func (s *Store) CreateGroup(ctx context.Context, name, creator string, members []string) (storage.Group, error) {
	doc := groupDoc{
		ID:        primitive.NewObjectID(),
		Name:      name,
		Members:   storage.DedupeMembers(creator, members),
		CreatedAt: s.now().UTC(),
		CreatedBy: creator,
	}
	if _, err := s.db.Collection(colGroups).InsertOne(ctx, doc); err != nil {
		return storage.Group{}, err
	}
	return toGroup(doc), nil
}

// IsMember reports whether username belongs to the group. Malformed ids are never members.
func (s *Store) IsMember(ctx context.Context, groupID, username string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(groupID))
	if err != nil {
		return false, nil
	}
	n, err := s.db.Collection(colGroups).CountDocuments(ctx, bson.M{"_id": oid, "members": username})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MembersOf lists the members of a group.
func (s *Store) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(groupID))
	if err != nil {
		return nil, nil
	}
	var doc groupDoc
	err = s.db.Collection(colGroups).
		FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(bson.M{"members": 1})).
		Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.Members, nil
}

// GroupsFor lists the groups whose membership includes username, ordered by name.
func (s *Store) GroupsFor(ctx context.Context, username string) ([]storage.Group, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cur, err := s.db.Collection(colGroups).Find(ctx, bson.M{"members": username}, opts)
	if err != nil {
		return nil, err
	}
	var docs []groupDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	groups := make([]storage.Group, 0, len(docs))
	for _, d := range docs {
		groups = append(groups, toGroup(d))
	}
	return groups, nil
}

func toGroup(d groupDoc) storage.Group {
	return storage.Group{
		ID:        d.ID.Hex(),
		Name:      d.Name,
		Members:   d.Members,
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt,
	}
}

func markerKey(user string, scope storage.Scope, chatID string) string {
	return strings.TrimSpace(user) + "|" + string(scope) + "|" + storage.MarkerChatID(scope, chatID)
}

// SetClearedAtNow upserts the marker for (username, scope, chatID) and returns the new cutoff.
func (s *Store) SetClearedAtNow(ctx context.Context, username string, scope storage.Scope, chatID string) (int64, error) {
	if strings.TrimSpace(username) == "" || scope == "" {
		return 0, errors.New("user and scope required")
	}
	now := s.now().UnixMilli()
	key := markerKey(username, scope, chatID)
	_, err := s.db.Collection(colChatClears).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": clearDoc{
			Key:       key,
			User:      strings.TrimSpace(username),
			Scope:     string(scope),
			ChatID:    storage.MarkerChatID(scope, chatID),
			ClearedAt: now,
		}},
		options.Update().SetUpsert(true))
	if err != nil {
		return 0, fmt.Errorf("write clear marker: %w", err)
	}
	return now, nil
}

// EffectiveClearedAt combines the "all" marker with the scope-specific one.
func (s *Store) EffectiveClearedAt(ctx context.Context, username string, scope storage.Scope, chatID string) (int64, error) {
	all, err := s.clearedAt(ctx, markerKey(username, storage.ScopeAll, ""))
	if err != nil {
		return 0, err
	}
	if scope == storage.ScopeAll {
		return all, nil
	}
	specific, err := s.clearedAt(ctx, markerKey(username, scope, chatID))
	if err != nil {
		return 0, err
	}
	return max(all, specific), nil
}

func (s *Store) clearedAt(ctx context.Context, key string) (int64, error) {
	var doc clearDoc
	err := s.db.Collection(colChatClears).
		FindOne(ctx, bson.M{"key": key}, options.FindOne().SetProjection(bson.M{"clearedAt": 1})).
		Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return doc.ClearedAt, nil
}
