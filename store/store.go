package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/chatsense/internal/profile"
	"github.com/hrygo/chatsense/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Caches. Ban and chat lookups sit on the hot ingestion path; both fail
	// open on store errors so a database hiccup never mutes the bot.
	banCache  *cache.LRUCache[int64, bool]
	chatCache *cache.LRUCache[int64, *Chat]
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:    driver,
		profile:   profile,
		banCache:  cache.NewLRUCache[int64, bool](4096, 10*time.Minute),
		chatCache: cache.NewLRUCache[int64, *Chat](1024, 10*time.Minute),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Init creates or upgrades the schema.
func (s *Store) Init(ctx context.Context) error {
	return s.driver.Init(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

// Messages

func (s *Store) UpsertMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.UpsertMessage(ctx, create)
}

func (s *Store) GetMessage(ctx context.Context, chatID, messageID int64) (*Message, error) {
	return s.driver.GetMessage(ctx, chatID, messageID)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) ListMessagesAround(ctx context.Context, chatID, messageID int64, before, after int) ([]*Message, error) {
	return s.driver.ListMessagesAround(ctx, chatID, messageID, before, after)
}

func (s *Store) ListMessagesWithoutEmbedding(ctx context.Context, minLength, limit int) ([]*Message, error) {
	return s.driver.ListMessagesWithoutEmbedding(ctx, minLength, limit)
}

func (s *Store) ListRecentMessages(ctx context.Context, chatID int64, limit int) ([]*Message, error) {
	return s.driver.ListRecentMessages(ctx, chatID, limit)
}

func (s *Store) SearchMessagesLexical(ctx context.Context, search *LexicalSearch) ([]*MessageMatch, error) {
	return s.driver.SearchMessagesLexical(ctx, search)
}

func (s *Store) SampleUserMessages(ctx context.Context, chatID, userID int64, limit int) ([]*Message, error) {
	return s.driver.SampleUserMessages(ctx, chatID, userID, limit)
}

func (s *Store) CountMessages(ctx context.Context, find *FindMessage) (int64, error) {
	return s.driver.CountMessages(ctx, find)
}

func (s *Store) CountUserActivityByHour(ctx context.Context, chatID, userID int64) ([]int64, error) {
	return s.driver.CountUserActivityByHour(ctx, chatID, userID)
}

func (s *Store) ListActiveChatUsers(ctx context.Context, since time.Time, minMessages int64) ([]*ChatUserActivity, error) {
	return s.driver.ListActiveChatUsers(ctx, since, minMessages)
}

// Chats

func (s *Store) UpsertChat(ctx context.Context, create *Chat) (*Chat, error) {
	chat, err := s.driver.UpsertChat(ctx, create)
	if err == nil {
		s.chatCache.SetWithDefaultTTL(chat.ID, chat)
	}
	return chat, err
}

// GetChat returns the chat, serving repeated lookups from cache. A store
// error falls back to "unknown chat" without failing the caller's path.
func (s *Store) GetChat(ctx context.Context, id int64) (*Chat, error) {
	if chat, ok := s.chatCache.Get(id); ok {
		return chat, nil
	}
	chat, err := s.driver.GetChat(ctx, id)
	if err != nil {
		return nil, err
	}
	if chat != nil {
		s.chatCache.SetWithDefaultTTL(id, chat)
	}
	return chat, nil
}

func (s *Store) ListChats(ctx context.Context, find *FindChat) ([]*Chat, error) {
	return s.driver.ListChats(ctx, find)
}

func (s *Store) SetChatActive(ctx context.Context, id int64, active bool, reason string) error {
	err := s.driver.SetChatActive(ctx, id, active, reason)
	if err == nil {
		s.chatCache.Remove(id)
	}
	return err
}

// IsChatActive reports whether a chat is known and active. Fails open: on a
// store error the chat is treated as active so ingestion keeps flowing.
func (s *Store) IsChatActive(ctx context.Context, id int64) bool {
	chat, err := s.GetChat(ctx, id)
	if err != nil {
		slog.Warn("chat lookup failed, assuming active", "chat_id", id, "error", err)
		return true
	}
	if chat == nil {
		return false
	}
	return chat.Active
}

// Embeddings

func (s *Store) UpsertMessageEmbeddings(ctx context.Context, embeddings []*MessageEmbedding) error {
	return s.driver.UpsertMessageEmbeddings(ctx, embeddings)
}

func (s *Store) UpsertContextEmbedding(ctx context.Context, embedding *ContextEmbedding) error {
	return s.driver.UpsertContextEmbedding(ctx, embedding)
}

func (s *Store) UpsertQuestionEmbeddings(ctx context.Context, embeddings []*QuestionEmbedding) error {
	return s.driver.UpsertQuestionEmbeddings(ctx, embeddings)
}

func (s *Store) SearchMessageEmbeddings(ctx context.Context, search *VectorSearch) ([]*MessageMatch, error) {
	return s.driver.SearchMessageEmbeddings(ctx, search)
}

func (s *Store) SearchContextEmbeddings(ctx context.Context, search *VectorSearch) ([]*ContextMatch, error) {
	return s.driver.SearchContextEmbeddings(ctx, search)
}

func (s *Store) SearchQuestionEmbeddings(ctx context.Context, search *VectorSearch) ([]*MessageMatch, error) {
	return s.driver.SearchQuestionEmbeddings(ctx, search)
}

func (s *Store) CountMessageEmbeddingStats(ctx context.Context, minLength int) (*EmbeddingStats, error) {
	return s.driver.CountMessageEmbeddingStats(ctx, minLength)
}

func (s *Store) CountContextEmbeddingStats(ctx context.Context, windowSize, windowStep int) (*EmbeddingStats, error) {
	return s.driver.CountContextEmbeddingStats(ctx, windowSize, windowStep)
}

func (s *Store) CountQuestionEmbeddingStats(ctx context.Context) (*EmbeddingStats, error) {
	return s.driver.CountQuestionEmbeddingStats(ctx)
}

func (s *Store) ListContextEmbeddedStarts(ctx context.Context, chatID int64, startIDs []int64) ([]int64, error) {
	return s.driver.ListContextEmbeddedStarts(ctx, chatID, startIDs)
}

// Queues

func (s *Store) QueueEnqueue(ctx context.Context, table string, payload []byte) (int64, error) {
	return s.driver.QueueEnqueue(ctx, table, payload)
}

func (s *Store) QueuePick(ctx context.Context, table string, lease time.Duration, maxAttempts int) (*QueueRow, error) {
	return s.driver.QueuePick(ctx, table, lease, maxAttempts)
}

func (s *Store) QueueComplete(ctx context.Context, table string, id int64) (*QueueTimings, error) {
	return s.driver.QueueComplete(ctx, table, id)
}

func (s *Store) QueueFail(ctx context.Context, table string, id int64, lastError string, retryAt time.Time) error {
	return s.driver.QueueFail(ctx, table, id, lastError, retryAt)
}

func (s *Store) QueueMarkDead(ctx context.Context, table string, id int64, lastError string) error {
	return s.driver.QueueMarkDead(ctx, table, id, lastError)
}

func (s *Store) QueueRecoverStale(ctx context.Context, table string, lease time.Duration, maxAttempts int) (requeued, dead int64, err error) {
	return s.driver.QueueRecoverStale(ctx, table, lease, maxAttempts)
}

func (s *Store) QueuePendingCount(ctx context.Context, table string, lease time.Duration) (int64, error) {
	return s.driver.QueuePendingCount(ctx, table, lease)
}

func (s *Store) QueueDashboardStats(ctx context.Context, table string, lease time.Duration) (*QueueDashboardStats, error) {
	return s.driver.QueueDashboardStats(ctx, table, lease)
}

func (s *Store) QueueCleanup(ctx context.Context, table string, retention time.Duration) (int64, error) {
	return s.driver.QueueCleanup(ctx, table, retention)
}

// User profiles

func (s *Store) TouchUserActivity(ctx context.Context, chatID, userID int64, username, displayName string) error {
	return s.driver.TouchUserActivity(ctx, chatID, userID, username, displayName)
}

func (s *Store) GetUserProfile(ctx context.Context, chatID, userID int64) (*UserProfile, error) {
	return s.driver.GetUserProfile(ctx, chatID, userID)
}

func (s *Store) ListUserProfiles(ctx context.Context, find *FindUserProfile) ([]*UserProfile, error) {
	return s.driver.ListUserProfiles(ctx, find)
}

func (s *Store) UpdateUserGender(ctx context.Context, chatID, userID int64, gender string, confidence float64) (bool, error) {
	return s.driver.UpdateUserGender(ctx, chatID, userID, gender, confidence)
}

func (s *Store) SaveGeneratedProfile(ctx context.Context, save *GeneratedProfile) error {
	return s.driver.SaveGeneratedProfile(ctx, save)
}

func (s *Store) ListProfileCandidates(ctx context.Context, find *ProfileCandidate) ([]*UserProfile, error) {
	return s.driver.ListProfileCandidates(ctx, find)
}

// User facts

func (s *Store) UpsertUserFact(ctx context.Context, upsert *UserFact) (*UserFact, error) {
	return s.driver.UpsertUserFact(ctx, upsert)
}

func (s *Store) ListUserFacts(ctx context.Context, find *FindUserFact) ([]*UserFact, error) {
	return s.driver.ListUserFacts(ctx, find)
}

// User aliases

func (s *Store) RecordUserAlias(ctx context.Context, record *UserAlias) (*UserAlias, error) {
	return s.driver.RecordUserAlias(ctx, record)
}

func (s *Store) ListUserAliases(ctx context.Context, find *FindUserAlias) ([]*UserAlias, error) {
	return s.driver.ListUserAliases(ctx, find)
}

// User relationships

func (s *Store) UpsertUserRelationship(ctx context.Context, upsert *UserRelationship) (*UserRelationship, error) {
	return s.driver.UpsertUserRelationship(ctx, upsert)
}

func (s *Store) ListUserRelationships(ctx context.Context, find *FindUserRelationship) ([]*UserRelationship, error) {
	return s.driver.ListUserRelationships(ctx, find)
}

// Bans

func (s *Store) BanUser(ctx context.Context, ban *BannedUser) error {
	err := s.driver.BanUser(ctx, ban)
	if err == nil {
		s.banCache.SetWithDefaultTTL(ban.UserID, true)
	}
	return err
}

func (s *Store) UnbanUser(ctx context.Context, userID int64) error {
	err := s.driver.UnbanUser(ctx, userID)
	if err == nil {
		s.banCache.SetWithDefaultTTL(userID, false)
	}
	return err
}

// IsUserBanned reports the cached ban status. Fails open: a store error is
// logged and the user is treated as not banned.
func (s *Store) IsUserBanned(ctx context.Context, userID int64) bool {
	if banned, ok := s.banCache.Get(userID); ok {
		return banned
	}
	banned, err := s.driver.IsUserBanned(ctx, userID)
	if err != nil {
		slog.Warn("ban lookup failed, assuming not banned", "user_id", userID, "error", err)
		return false
	}
	s.banCache.SetWithDefaultTTL(userID, banned)
	return banned
}

func (s *Store) ListBannedUsers(ctx context.Context) ([]*BannedUser, error) {
	return s.driver.ListBannedUsers(ctx)
}

// Settings

func (s *Store) UpsertAdminSetting(ctx context.Context, setting *AdminSetting) error {
	return s.driver.UpsertAdminSetting(ctx, setting)
}

func (s *Store) GetAdminSetting(ctx context.Context, key string) (*AdminSetting, error) {
	return s.driver.GetAdminSetting(ctx, key)
}

func (s *Store) ListAdminSettings(ctx context.Context) ([]*AdminSetting, error) {
	return s.driver.ListAdminSettings(ctx)
}

func (s *Store) UpsertPromptSetting(ctx context.Context, setting *PromptSetting) error {
	return s.driver.UpsertPromptSetting(ctx, setting)
}

func (s *Store) GetPromptSetting(ctx context.Context, command, mode, language string) (*PromptSetting, error) {
	return s.driver.GetPromptSetting(ctx, command, mode, language)
}

func (s *Store) ListPromptSettings(ctx context.Context) ([]*PromptSetting, error) {
	return s.driver.ListPromptSettings(ctx)
}

func (s *Store) UpsertChatSetting(ctx context.Context, setting *ChatSetting) error {
	return s.driver.UpsertChatSetting(ctx, setting)
}

func (s *Store) GetChatSetting(ctx context.Context, chatID int64, key string) (*ChatSetting, error) {
	return s.driver.GetChatSetting(ctx, chatID, key)
}

func (s *Store) ListChatSettings(ctx context.Context, chatID int64) ([]*ChatSetting, error) {
	return s.driver.ListChatSettings(ctx, chatID)
}

// Conversation memory

func (s *Store) CreateConversationMemory(ctx context.Context, create *ConversationMemory) (*ConversationMemory, error) {
	return s.driver.CreateConversationMemory(ctx, create)
}

func (s *Store) ListConversationMemories(ctx context.Context, find *FindConversationMemory) ([]*ConversationMemory, error) {
	return s.driver.ListConversationMemories(ctx, find)
}

func (s *Store) CleanupConversationMemories(ctx context.Context, retention time.Duration) (int64, error) {
	return s.driver.CleanupConversationMemories(ctx, retention)
}
