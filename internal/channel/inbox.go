package channel

import (
	"context"

	"go.uber.org/zap"
)

// InboxWriter persists a message into a user's in-app inbox.
type InboxWriter interface {
	Push(ctx context.Context, userID, message string) error
}

// InboxAdapter stores messages through an InboxWriter.
type InboxAdapter struct {
	store  InboxWriter
	logger *zap.Logger
}

func NewInboxAdapter(store InboxWriter, logger *zap.Logger) *InboxAdapter {
	return &InboxAdapter{store: store, logger: logger}
}

func (a *InboxAdapter) Kind() Kind { return KindInbox }

func (a *InboxAdapter) Send(ctx context.Context, userID, message string) Result {
	if err := a.store.Push(ctx, userID, message); err != nil {
		a.logger.Warn("inbox write failed", zap.String("user_id", userID), zap.Error(err))
		return ProviderFailure(KindInbox, err)
	}
	return Success(inboxStoredReason)
}
