package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/cascade/internal/channel"
)

func newTestStore() *MemoryStore {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	n := &Notification{EventType: "Fraud Alert", Phone: "9999999999", Message: "alert", Status: StatusDelivered}
	require.NoError(t, s.CreatePendingNotification(ctx, n))
	assert.NotEqual(t, uuid.Nil, n.ID)
	assert.Equal(t, StatusPending, n.Status, "create always starts Pending")
	assert.False(t, n.CreatedAt.IsZero())

	require.NoError(t, s.AppendChannelAttempt(ctx, &ChannelAttempt{
		NotificationID: n.ID, Sequence: 1, Channel: channel.KindSMS, Status: channel.StatusFailed, Reason: "Invalid phone number",
	}))
	require.NoError(t, s.AppendChannelAttempt(ctx, &ChannelAttempt{
		NotificationID: n.ID, Sequence: 2, Channel: channel.KindPush, Status: channel.StatusSuccess, Reason: "Push delivered",
	}))
	require.NoError(t, s.FinalizeNotification(ctx, n.ID, StatusDelivered, "SMS Failed, PUSH Success"))

	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.Equal(t, "SMS Failed, PUSH Success", got.FinalChannelSummary)

	attempts, err := s.ListAttempts(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, channel.KindSMS, attempts[0].Channel)
	assert.Equal(t, channel.KindPush, attempts[1].Channel)

	err = s.FinalizeNotification(ctx, n.ID, StatusFailed, "")
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	err = s.AppendChannelAttempt(ctx, &ChannelAttempt{
		NotificationID: n.ID, Sequence: 3, Channel: channel.KindEmail, Status: channel.StatusSuccess, Reason: "Email sent",
	})
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	attempts, err = s.ListAttempts(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2, "finalized notifications gain no attempts")
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	n := &Notification{EventType: "KYC Reminder", Message: "m"}
	require.NoError(t, s.CreatePendingNotification(ctx, n))
	n.Message = "changed by caller"

	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "m", got.Message)

	got.Status = StatusFailed
	again, _ := s.GetNotification(ctx, n.ID)
	assert.Equal(t, StatusPending, again.Status)
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	missing := uuid.New()

	_, err := s.GetNotification(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.AppendChannelAttempt(ctx, &ChannelAttempt{NotificationID: missing, Channel: channel.KindSMS})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.FinalizeNotification(ctx, missing, StatusFailed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListAndCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	var ids []uuid.UUID
	for i, status := range []string{StatusDelivered, StatusFailed, StatusDelivered} {
		n := &Notification{EventType: "Login OTP", Message: "otp"}
		require.NoError(t, s.CreatePendingNotification(ctx, n))
		require.NoError(t, s.AppendChannelAttempt(ctx, &ChannelAttempt{
			NotificationID: n.ID, Sequence: 1, Channel: channel.KindSMS, Status: channel.StatusFailed,
		}))
		if i != 1 {
			require.NoError(t, s.AppendChannelAttempt(ctx, &ChannelAttempt{
				NotificationID: n.ID, Sequence: 2, Channel: channel.KindPush, Status: channel.StatusSuccess,
			}))
		}
		require.NoError(t, s.FinalizeNotification(ctx, n.ID, status, ""))
		ids = append(ids, n.ID)
	}

	list, err := s.ListNotifications(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID, "newest first")
	assert.Equal(t, ids[0], list[2].ID)

	page, err := s.ListNotifications(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	empty, err := s.ListNotifications(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	total, _ := s.CountNotifications(ctx)
	delivered, _ := s.CountByStatus(ctx, StatusDelivered)
	failed, _ := s.CountByStatus(ctx, StatusFailed)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, failed)

	byChannel, err := s.CountAttemptsByChannel(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[channel.Kind]int{channel.KindSMS: 3, channel.KindPush: 2}, byChannel)

	require.NoError(t, s.ClearAll(ctx))
	total, _ = s.CountNotifications(ctx)
	assert.Zero(t, total)
	attempts, _ := s.ListAttempts(ctx, ids[0])
	assert.Empty(t, attempts)
}
