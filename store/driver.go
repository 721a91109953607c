package store

import (
	"context"
	"time"
)

// Driver is an interface for store driver.
// It contains all database operations.
type Driver interface {
	GetDB() any
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	// Messages
	UpsertMessage(ctx context.Context, create *Message) (*Message, error)
	GetMessage(ctx context.Context, chatID, messageID int64) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	ListMessagesAround(ctx context.Context, chatID, messageID int64, before, after int) ([]*Message, error)
	ListMessagesWithoutEmbedding(ctx context.Context, minLength, limit int) ([]*Message, error)
	ListRecentMessages(ctx context.Context, chatID int64, limit int) ([]*Message, error)
	SearchMessagesLexical(ctx context.Context, search *LexicalSearch) ([]*MessageMatch, error)
	SampleUserMessages(ctx context.Context, chatID, userID int64, limit int) ([]*Message, error)
	CountMessages(ctx context.Context, find *FindMessage) (int64, error)
	CountUserActivityByHour(ctx context.Context, chatID, userID int64) ([]int64, error)
	ListActiveChatUsers(ctx context.Context, since time.Time, minMessages int64) ([]*ChatUserActivity, error)

	// Chats
	UpsertChat(ctx context.Context, create *Chat) (*Chat, error)
	GetChat(ctx context.Context, id int64) (*Chat, error)
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)
	SetChatActive(ctx context.Context, id int64, active bool, reason string) error

	// Embeddings
	UpsertMessageEmbeddings(ctx context.Context, embeddings []*MessageEmbedding) error
	UpsertContextEmbedding(ctx context.Context, embedding *ContextEmbedding) error
	UpsertQuestionEmbeddings(ctx context.Context, embeddings []*QuestionEmbedding) error
	SearchMessageEmbeddings(ctx context.Context, search *VectorSearch) ([]*MessageMatch, error)
	SearchContextEmbeddings(ctx context.Context, search *VectorSearch) ([]*ContextMatch, error)
	SearchQuestionEmbeddings(ctx context.Context, search *VectorSearch) ([]*MessageMatch, error)
	CountMessageEmbeddingStats(ctx context.Context, minLength int) (*EmbeddingStats, error)
	CountContextEmbeddingStats(ctx context.Context, windowSize, windowStep int) (*EmbeddingStats, error)
	CountQuestionEmbeddingStats(ctx context.Context) (*EmbeddingStats, error)
	ListContextEmbeddedStarts(ctx context.Context, chatID int64, startIDs []int64) ([]int64, error)

	// Queues. Table must be one of the QueueTables identifiers.
	QueueEnqueue(ctx context.Context, table string, payload []byte) (int64, error)
	QueuePick(ctx context.Context, table string, lease time.Duration, maxAttempts int) (*QueueRow, error)
	QueueComplete(ctx context.Context, table string, id int64) (*QueueTimings, error)
	QueueFail(ctx context.Context, table string, id int64, lastError string, retryAt time.Time) error
	QueueMarkDead(ctx context.Context, table string, id int64, lastError string) error
	QueueRecoverStale(ctx context.Context, table string, lease time.Duration, maxAttempts int) (requeued, dead int64, err error)
	QueuePendingCount(ctx context.Context, table string, lease time.Duration) (int64, error)
	QueueDashboardStats(ctx context.Context, table string, lease time.Duration) (*QueueDashboardStats, error)
	QueueCleanup(ctx context.Context, table string, retention time.Duration) (int64, error)

	// User profiles
	TouchUserActivity(ctx context.Context, chatID, userID int64, username, displayName string) error
	GetUserProfile(ctx context.Context, chatID, userID int64) (*UserProfile, error)
	ListUserProfiles(ctx context.Context, find *FindUserProfile) ([]*UserProfile, error)
	UpdateUserGender(ctx context.Context, chatID, userID int64, gender string, confidence float64) (bool, error)
	SaveGeneratedProfile(ctx context.Context, save *GeneratedProfile) error
	ListProfileCandidates(ctx context.Context, find *ProfileCandidate) ([]*UserProfile, error)

	// User facts
	UpsertUserFact(ctx context.Context, upsert *UserFact) (*UserFact, error)
	ListUserFacts(ctx context.Context, find *FindUserFact) ([]*UserFact, error)

	// User aliases
	RecordUserAlias(ctx context.Context, record *UserAlias) (*UserAlias, error)
	ListUserAliases(ctx context.Context, find *FindUserAlias) ([]*UserAlias, error)

	// User relationships
	UpsertUserRelationship(ctx context.Context, upsert *UserRelationship) (*UserRelationship, error)
	ListUserRelationships(ctx context.Context, find *FindUserRelationship) ([]*UserRelationship, error)

	// Bans
	BanUser(ctx context.Context, ban *BannedUser) error
	UnbanUser(ctx context.Context, userID int64) error
	IsUserBanned(ctx context.Context, userID int64) (bool, error)
	ListBannedUsers(ctx context.Context) ([]*BannedUser, error)

	// Settings
	UpsertAdminSetting(ctx context.Context, setting *AdminSetting) error
	GetAdminSetting(ctx context.Context, key string) (*AdminSetting, error)
	ListAdminSettings(ctx context.Context) ([]*AdminSetting, error)
	UpsertPromptSetting(ctx context.Context, setting *PromptSetting) error
	GetPromptSetting(ctx context.Context, command, mode, language string) (*PromptSetting, error)
	ListPromptSettings(ctx context.Context) ([]*PromptSetting, error)
	UpsertChatSetting(ctx context.Context, setting *ChatSetting) error
	GetChatSetting(ctx context.Context, chatID int64, key string) (*ChatSetting, error)
	ListChatSettings(ctx context.Context, chatID int64) ([]*ChatSetting, error)

	// Conversation memory
	CreateConversationMemory(ctx context.Context, create *ConversationMemory) (*ConversationMemory, error)
	ListConversationMemories(ctx context.Context, find *FindConversationMemory) ([]*ConversationMemory, error)
	CleanupConversationMemories(ctx context.Context, retention time.Duration) (int64, error)
}
