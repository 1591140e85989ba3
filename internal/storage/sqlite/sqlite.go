package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db  *gorm.DB
	now func() time.Time
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

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Password  string
	Online    bool `gorm:"index"`
	LastSeen  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type messageModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Scope     string `gorm:"index:idx_messages_chat,priority:1"`
	ChatID    string `gorm:"index:idx_messages_chat,priority:2"`
	Timestamp int64  `gorm:"index:idx_messages_chat,priority:3"`
	Sender    string
	Receiver  string `gorm:"index"`
	Content   string
}

func (messageModel) TableName() string { return "messages" }

type groupModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"index"`
	CreatedBy string
	CreatedAt time.Time
}

func (groupModel) TableName() string { return "chat_groups" }

type groupMemberModel struct {
	GroupID  string `gorm:"primaryKey"`
	Username string `gorm:"primaryKey;index"`
	Position int
}

func (groupMemberModel) TableName() string { return "group_members" }

type clearMarkerModel struct {
	Username  string `gorm:"primaryKey"`
	Scope     string `gorm:"primaryKey"`
	ChatID    string `gorm:"primaryKey"`
	ClearedAt int64  `gorm:"index"`
}

func (clearMarkerModel) TableName() string { return "chat_clears" }

// NewStore opens a SQLite database at the provided path.
func NewStore(cfg config.DatabaseConfig, opts ...Option) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn(cfg.Path)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY under fan-out load.
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&userModel{},
		&messageModel{},
		&groupModel{},
		&groupMemberModel{},
		&clearMarkerModel{},
	)
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	model := userModel{
		ID:        user.ID,
		Username:  user.Username,
		Password:  user.Password,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserExists
		}
		return err
	}
	return nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	user := &storage.User{
		ID:        model.ID,
		Username:  model.Username,
		Password:  model.Password,
		Online:    model.Online,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if model.LastSeen != nil {
		user.LastSeen = *model.LastSeen
	}
	return user, nil
}

// AllUsernamesExcept lists every registered username other than the given one.
func (s *Store) AllUsernamesExcept(ctx context.Context, username string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&userModel{}).
		Where("username <> ?", username).
		Order("username").
		Pluck("username", &names).Error
	return names, err
}

// MarkOnline flags the user as connected.
func (s *Store) MarkOnline(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).
		Model(&userModel{}).
		Where("username = ?", username).
		Update("online", true).Error
}

// MarkOffline flags the user as disconnected and records last-seen.
func (s *Store) MarkOffline(ctx context.Context, username string) error {
	now := s.now().UTC()
	return s.db.WithContext(ctx).
		Model(&userModel{}).
		Where("username = ?", username).
		Updates(map[string]interface{}{"online": false, "last_seen": now}).Error
}

// ResetPresence marks every user offline; used at startup to drop stale state.
func (s *Store) ResetPresence(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Model(&userModel{}).
		Where("online = ?", true).
		Update("online", false).Error
}

// SaveBroadcast appends a message to the global channel.
func (s *Store) SaveBroadcast(ctx context.Context, sender, content string) (storage.Message, error) {
	return s.saveMessage(ctx, messageModel{
		Scope:   string(storage.ScopeBroadcast),
		Sender:  sender,
		Content: content,
	})
}

// SavePrivate appends a message to the conversation between sender and receiver.
func (s *Store) SavePrivate(ctx context.Context, sender, receiver, content string) (storage.Message, error) {
	return s.saveMessage(ctx, messageModel{
		Scope:    string(storage.ScopePrivate),
		ChatID:   storage.ConversationID(sender, receiver),
		Sender:   sender,
		Receiver: receiver,
		Content:  content,
	})
}

// SaveGroupMessage appends a message to a group's history.
func (s *Store) SaveGroupMessage(ctx context.Context, groupID, sender, content string) (storage.Message, error) {
	return s.saveMessage(ctx, messageModel{
		Scope:   string(storage.ScopeGroup),
		ChatID:  groupID,
		Sender:  sender,
		Content: content,
	})
}

func (s *Store) saveMessage(ctx context.Context, model messageModel) (storage.Message, error) {
	model.Timestamp = s.now().UnixMilli()
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return storage.Message{}, err
	}
	return toMessage(model), nil
}

// LoadHistory returns the visible tail of one chat for q.ForUser.
func (s *Store) LoadHistory(ctx context.Context, q storage.HistoryQuery) ([]storage.Message, error) {
	chatKey, err := historyKey(q)
	if err != nil {
		return nil, err
	}
	cutoff, err := s.EffectiveClearedAt(ctx, q.ForUser, q.Scope, q.ChatID)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit < 1 {
		limit = 1
	}

	var models []messageModel
	err = s.db.WithContext(ctx).
		Where("scope = ? AND chat_id = ? AND timestamp > ?", string(q.Scope), chatKey, cutoff).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]storage.Message, len(models))
	for i, m := range models {
		out[len(models)-1-i] = toMessage(m)
	}
	return out, nil
}

func historyKey(q storage.HistoryQuery) (string, error) {
	switch q.Scope {
	case storage.ScopeBroadcast:
		return "", nil
	case storage.ScopePrivate:
		return storage.ConversationID(q.ForUser, q.ChatID), nil
	case storage.ScopeGroup:
		return q.ChatID, nil
	default:
		return "", fmt.Errorf("history scope %q not supported", q.Scope)
	}
}

func toMessage(m messageModel) storage.Message {
	return storage.Message{
		ID:        strconv.FormatUint(m.ID, 10),
		Scope:     storage.Scope(m.Scope),
		ChatID:    m.ChatID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

// CreateGroup persists a group with the creator always included as a member.
func (s *Store) CreateGroup(ctx context.Context, name, creator string, members []string) (storage.Group, error) {
	group := storage.Group{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   storage.DedupeMembers(creator, members),
		CreatedBy: creator,
		CreatedAt: s.now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&groupModel{
			ID:        group.ID,
			Name:      group.Name,
			CreatedBy: group.CreatedBy,
			CreatedAt: group.CreatedAt,
		}).Error; err != nil {
			return err
		}
		rows := make([]groupMemberModel, 0, len(group.Members))
		for i, m := range group.Members {
			rows = append(rows, groupMemberModel{GroupID: group.ID, Username: m, Position: i})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return storage.Group{}, err
	}
	return group, nil
}

// IsMember reports whether username belongs to the group.
func (s *Store) IsMember(ctx context.Context, groupID, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&groupMemberModel{}).
		Where("group_id = ? AND username = ?", groupID, username).
		Count(&count).Error
	return count > 0, err
}

// MembersOf lists the members of a group in insertion order.
func (s *Store) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&groupMemberModel{}).
		Where("group_id = ?", groupID).
		Order("position").
		Pluck("username", &names).Error
	return names, err
}

// GroupsFor lists the groups whose membership includes username, ordered by name.
func (s *Store) GroupsFor(ctx context.Context, username string) ([]storage.Group, error) {
	var models []groupModel
	err := s.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = chat_groups.id").
		Where("group_members.username = ?", username).
		Order("chat_groups.name, chat_groups.created_at").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	groups := make([]storage.Group, 0, len(models))
	for _, m := range models {
		members, err := s.MembersOf(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		groups = append(groups, storage.Group{
			ID:        m.ID,
			Name:      m.Name,
			Members:   members,
			CreatedBy: m.CreatedBy,
			CreatedAt: m.CreatedAt,
		})
	}
	return groups, nil
}

// SetClearedAtNow upserts the marker for (username, scope, chatID) and returns the new cutoff.
func (s *Store) SetClearedAtNow(ctx context.Context, username string, scope storage.Scope, chatID string) (int64, error) {
	if strings.TrimSpace(username) == "" || scope == "" {
		return 0, errors.New("user and scope required")
	}
	now := s.now().UnixMilli()
	marker := clearMarkerModel{
		Username:  username,
		Scope:     string(scope),
		ChatID:    storage.MarkerChatID(scope, chatID),
		ClearedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}, {Name: "scope"}, {Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cleared_at"}),
	}).Create(&marker).Error
	if err != nil {
		return 0, fmt.Errorf("write clear marker: %w", err)
	}
	return now, nil
}

// EffectiveClearedAt combines the "all" marker with the scope-specific one.
func (s *Store) EffectiveClearedAt(ctx context.Context, username string, scope storage.Scope, chatID string) (int64, error) {
	all, err := s.clearedAt(ctx, username, storage.ScopeAll, "")
	if err != nil {
		return 0, err
	}
	if scope == storage.ScopeAll {
		return all, nil
	}
	specific, err := s.clearedAt(ctx, username, scope, chatID)
	if err != nil {
		return 0, err
	}
	return max(all, specific), nil
}

func (s *Store) clearedAt(ctx context.Context, username string, scope storage.Scope, chatID string) (int64, error) {
	var marker clearMarkerModel
	err := s.db.WithContext(ctx).
		Where("username = ? AND scope = ? AND chat_id = ?", username, string(scope), storage.MarkerChatID(scope, chatID)).
		Take(&marker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return marker.ClearedAt, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
