package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/cascade/internal/channel"
)

// MemoryStore is an in-process audit store with the same behavior as
// Repository. Records are copied in and out so callers never share memory
// with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]*Notification
	attempts      map[uuid.UUID][]*ChannelAttempt
	now           func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[uuid.UUID]*Notification),
		attempts:      make(map[uuid.UUID][]*ChannelAttempt),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreatePendingNotification(_ context.Context, notif *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if notif.ID == uuid.Nil {
		notif.ID = uuid.New()
	}
	if _, exists := s.notifications[notif.ID]; exists {
		return fmt.Errorf("insert notification: duplicate id %s", notif.ID)
	}

	now := s.now()
	notif.Status = StatusPending
	notif.FinalChannelSummary = ""
	notif.CreatedAt = now
	notif.UpdatedAt = now

	stored := *notif
	s.notifications[notif.ID] = &stored
	return nil
}

func (s *MemoryStore) AppendChannelAttempt(_ context.Context, attempt *ChannelAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notif, ok := s.notifications[attempt.NotificationID]
	if !ok {
		return fmt.Errorf("insert channel attempt: %w: %s", ErrNotFound, attempt.NotificationID)
	}
	if notif.Status != StatusPending {
		return fmt.Errorf("insert channel attempt: %w: %s", ErrAlreadyFinalized, attempt.NotificationID)
	}
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	attempt.CreatedAt = s.now()

	stored := *attempt
	s.attempts[attempt.NotificationID] = append(s.attempts[attempt.NotificationID], &stored)
	return nil
}

func (s *MemoryStore) FinalizeNotification(_ context.Context, id uuid.UUID, status, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notif, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if notif.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, id)
	}

	notif.Status = status
	notif.FinalChannelSummary = summary
	notif.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) GetNotification(_ context.Context, id uuid.UUID) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notif, ok := s.notifications[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *notif
	return &out, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, limit, offset int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out := *n
		all = append(all, &out)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() > all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*Notification{}, nil
	}
	all = all[offset:]
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, notificationID uuid.UUID) ([]*ChannelAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.attempts[notificationID]
	out := make([]*ChannelAttempt, 0, len(stored))
	for _, a := range stored {
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStore) CountNotifications(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifications), nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, status string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, notif := range s.notifications {
		if notif.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountAttemptsByChannel(_ context.Context) (map[channel.Kind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[channel.Kind]int)
	for _, attempts := range s.attempts {
		for _, a := range attempts {
			counts[a.Channel]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = make(map[uuid.UUID][]*ChannelAttempt)
	s.notifications = make(map[uuid.UUID]*Notification)
	return nil
}
