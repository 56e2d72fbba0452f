package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultInboxMaxItems caps each user's inbox list.
const DefaultInboxMaxItems = 100

// InboxMessage is one entry in a user's secure inbox.
type InboxMessage struct {
	Message  string    `json:"message"`
	StoredAt time.Time `json:"stored_at"`
}

// InboxStore keeps each user's inbox as a capped Redis list, newest first.
type InboxStore struct {
	client   *Client
	logger   *zap.Logger
	maxItems int64
}

// NewInboxStore creates an inbox store. maxItems <= 0 uses
// DefaultInboxMaxItems.
func NewInboxStore(client *Client, logger *zap.Logger, maxItems int) *InboxStore {
	if maxItems <= 0 {
		maxItems = DefaultInboxMaxItems
	}
	return &InboxStore{
		client:   client,
		logger:   logger,
		maxItems: int64(maxItems),
	}
}

func inboxKey(userID string) string {
	return "inbox:" + userID
}

// Push prepends message to the user's inbox and trims it to the cap.
func (s *InboxStore) Push(ctx context.Context, userID, message string) error {
	key := inboxKey(userID)

	entry, err := json.Marshal(InboxMessage{Message: message, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode inbox message: %w", err)
	}

	pipe := s.client.rdb.TxPipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, s.maxItems-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push inbox message: %w", err)
	}

	s.logger.Debug("inbox message stored", zap.String("user_id", userID))
	return nil
}

// Recent returns up to limit messages, newest first.
func (s *InboxStore) Recent(ctx context.Context, userID string, limit int) ([]InboxMessage, error) {
	if limit <= 0 || int64(limit) > s.maxItems {
		limit = int(s.maxItems)
	}

	raw, err := s.client.rdb.LRange(ctx, inboxKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	messages := make([]InboxMessage, 0, len(raw))
	for _, entry := range raw {
		var msg InboxMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			s.logger.Warn("skipping malformed inbox entry", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Len reports how many messages the user's inbox holds.
func (s *InboxStore) Len(ctx context.Context, userID string) (int, error) {
	n, err := s.client.rdb.LLen(ctx, inboxKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("inbox length: %w", err)
	}
	return int(n), nil
}
