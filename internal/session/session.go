// Package session keeps per-conversation state: the responses continuation
// token and turn count, and the assistant/thread pair.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/n0madic/go-llmportal/internal/config"
	"github.com/n0madic/go-llmportal/internal/logger"
)

// ErrNotFound is returned for a conversation with no stored state.
var ErrNotFound = errors.New("session: conversation not found")

// Entry is the state held for one conversation.
type Entry struct {
	ContinuationToken string    `json:"continuation_token,omitempty"`
	TurnCount         int       `json:"turn_count"`
	AssistantID       string    `json:"assistant_id,omitempty"`
	ThreadID          string    `json:"thread_id,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Empty reports whether the entry carries no state.
func (e Entry) Empty() bool {
	return e.ContinuationToken == "" && e.TurnCount == 0 && e.AssistantID == "" && e.ThreadID == ""
}

// Store maps conversation ids to entries.
type Store interface {
	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, conversationID string) (Entry, error)
	// Update applies fn to the current entry (zero if absent) and stores the
	// result. An entry left empty by fn is deleted.
	Update(ctx context.Context, conversationID string, fn func(*Entry)) (Entry, error)
	Delete(ctx context.Context, conversationID string) error
	// Len returns the number of live conversations.
	Len(ctx context.Context) (int, error)
	Close() error
}

// NewID returns a fresh conversation id.
func NewID() string {
	return uuid.NewString()
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.SessionConfig, log *logger.Logger) (Store, error) {
	log = logger.OrNop(log).Named("session")
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.TTL, cfg.Capacity), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info("session.redis.connected")
		return NewRedisStore(client, cfg.Redis.Prefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
