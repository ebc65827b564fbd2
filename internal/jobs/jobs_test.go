package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/domain"
	"github.com/ricirt/marketplace-realtime/internal/provider"
	"github.com/ricirt/marketplace-realtime/internal/repository"
)

// ---- collaborator mocks ----

type mockReleaser struct{ mock.Mock }

func (m *mockReleaser) ReleaseCourseEnrollment(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockReleaser) ReleaseOrder(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockBatcher struct{ mock.Mock }

func (m *mockBatcher) RunBatch(ctx context.Context, periodEnd time.Time) (int, error) {
	args := m.Called(ctx, periodEnd)
	return args.Int(0), args.Error(1)
}

type mockTriggers struct{ mock.Mock }

func (m *mockTriggers) Execute(ctx context.Context, triggerID, conversationID string) error {
	return m.Called(ctx, triggerID, conversationID).Error(0)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) Send(ctx context.Context, e *domain.Email) (*provider.Receipt, error) {
	args := m.Called(ctx, e)
	resp, _ := args.Get(0).(*provider.Receipt)
	return resp, args.Error(1)
}

type recordingNotifier struct {
	sent []domain.SendNotificationRequest
	fail map[string]error
}

func (n *recordingNotifier) Send(_ context.Context, req domain.SendNotificationRequest) (*domain.Notification, error) {
	if err := n.fail[req.UserID]; err != nil {
		return nil, err
	}
	n.sent = append(n.sent, req)
	return &domain.Notification{ID: "n-" + req.UserID, UserID: req.UserID, Title: req.Title}, nil
}

type crmUpdate struct {
	sellerID, event string
	data            any
}

type recordingCRM struct{ updates []crmUpdate }

func (c *recordingCRM) PublishUpdate(_ context.Context, sellerID, event string, data any) error {
	c.updates = append(c.updates, crmUpdate{sellerID, event, data})
	return nil
}

func jobFor(t *testing.T, p domain.JobPayload) *domain.Job {
	t.Helper()
	q, ok := domain.QueueForJob(p.JobName())
	require.True(t, ok)
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &domain.Job{ID: "job-1", Queue: q, Name: p.JobName(), Payload: raw, Attempts: 1, MaxAttempts: 3}
}

// ---- registry ----

func TestRegistry_PanicsOnMisconfiguration(t *testing.T) {
	noop := func(context.Context, *domain.Job, domain.JobPayload) error { return nil }
	r := NewRegistry()

	assert.Panics(t, func() { r.Register(domain.QueueNotifications, "made-up-job", noop) })
	assert.Panics(t, func() { r.Register(domain.QueueEmail, domain.JobOrderEscrowRelease, noop) })

	r.Register(domain.QueueEscrowRelease, domain.JobOrderEscrowRelease, noop)
	assert.Panics(t, func() { r.Register(domain.QueueEscrowRelease, domain.JobOrderEscrowRelease, noop) })
}

func TestRegistry_DispatchErrorsArePermanent(t *testing.T) {
	r := NewRegistry()
	NewEscrowHandlers(&mockReleaser{}, zap.NewNop()).Register(r)

	err := r.Dispatch(context.Background(), &domain.Job{Queue: domain.QueueEscrowRelease, Name: "ghost", Payload: []byte(`{}`)})
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrUnknownJob)

	err = r.Dispatch(context.Background(), &domain.Job{Queue: domain.QueueEscrowRelease, Name: domain.JobOrderEscrowRelease, Payload: []byte(`{"orderId":""}`)})
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrInvalidJobPayload)

	err = r.Dispatch(context.Background(), &domain.Job{Queue: domain.QueueEscrowRelease, Name: domain.JobOrderEscrowRelease, Payload: []byte(`{`)})
	assert.True(t, IsPermanent(err))
}

func TestRegistry_QueuesAndNames(t *testing.T) {
	r := NewRegistry()
	NewEscrowHandlers(&mockReleaser{}, zap.NewNop()).Register(r)
	NewPayoutHandlers(&mockBatcher{}, zap.NewNop()).Register(r)

	assert.Equal(t, []string{domain.QueueEscrowRelease, domain.QueuePayouts}, r.Queues())
	assert.Equal(t, []string{domain.JobCourseAutoRelease, domain.JobOrderEscrowRelease}, r.Names(domain.QueueEscrowRelease))
}

// ---- escrow ----

func TestEscrow_RoutesByJobName(t *testing.T) {
	rel := &mockReleaser{}
	rel.On("ReleaseCourseEnrollment", mock.Anything, "enr-1").Return(nil).Once()
	rel.On("ReleaseOrder", mock.Anything, "ord-1").Return(errors.New("gateway down")).Once()

	r := NewRegistry()
	NewEscrowHandlers(rel, zap.NewNop()).Register(r)

	require.NoError(t, r.Dispatch(context.Background(), jobFor(t, domain.CourseAutoRelease{EnrollmentID: "enr-1"})))
	err := r.Dispatch(context.Background(), jobFor(t, domain.OrderEscrowRelease{OrderID: "ord-1"}))
	assert.ErrorContains(t, err, "gateway down")
	assert.False(t, IsPermanent(err))
	rel.AssertExpectations(t)
}

func TestEscrow_RejectionIsPermanent(t *testing.T) {
	rel := &mockReleaser{}
	rel.On("ReleaseOrder", mock.Anything, "ord-9").Return(fmt.Errorf("%w: status 409", provider.ErrRejected)).Once()

	r := NewRegistry()
	NewEscrowHandlers(rel, zap.NewNop()).Register(r)

	err := r.Dispatch(context.Background(), jobFor(t, domain.OrderEscrowRelease{OrderID: "ord-9"}))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, provider.ErrRejected)
}

// ---- notifications ----

func TestNotifications_StandardAndBulk(t *testing.T) {
	notifier := &recordingNotifier{fail: map[string]error{"u2": errors.New("db down")}}
	r := NewRegistry()
	NewNotificationHandlers(notifier, &recordingCRM{}, repository.NewMockChatRepository(), &mockTriggers{}, zap.NewNop()).Register(r)
	ctx := context.Background()

	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.StandardNotification{UserID: "u1", Type: "order", Title: "Shipped"})))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Shipped", notifier.sent[0].Title)

	notifier.sent = nil
	bulk := domain.BulkNotification{UserIDs: []string{"u1", "u2", "u3"}, Template: domain.NotificationTemplate{Type: "promo", Title: "Sale"}}
	require.NoError(t, r.Dispatch(ctx, jobFor(t, bulk)), "partial failure does not fail the job")
	assert.Len(t, notifier.sent, 2)

	allFail := domain.BulkNotification{UserIDs: []string{"u2"}, Template: domain.NotificationTemplate{Title: "Sale"}}
	assert.Error(t, r.Dispatch(ctx, jobFor(t, allFail)))
}

func TestNotifications_InactivityCheckGroupsBySeller(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	chats := repository.NewMockChatRepository()
	chats.AddConversation("c-old-1", "s1", "s1", "b1")
	chats.AddConversation("c-old-2", "s1", "s1", "b2")
	chats.AddConversation("c-fresh", "s1", "s1", "b3")
	chats.AddConversation("c-other", "s2", "s2", "b1")
	chats.SetLastMessageAt("c-old-1", now.Add(-10*24*time.Hour))
	chats.SetLastMessageAt("c-old-2", now.Add(-8*24*time.Hour))
	chats.SetLastMessageAt("c-fresh", now.Add(-time.Hour))
	chats.SetLastMessageAt("c-other", now.Add(-30*24*time.Hour))

	notifier := &recordingNotifier{}
	crm := &recordingCRM{}
	h := NewNotificationHandlers(notifier, crm, chats, &mockTriggers{}, zap.NewNop())
	h.now = func() time.Time { return now }
	r := NewRegistry()
	h.Register(r)

	require.NoError(t, r.Dispatch(context.Background(), jobFor(t, domain.CRMInactivityCheck{SellerID: "s1", InactiveDays: 7})))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "s1", notifier.sent[0].UserID)
	assert.Equal(t, NotificationTypeInactiveConversations, notifier.sent[0].Type)
	require.Len(t, crm.updates, 1)
	assert.Equal(t, CRMEventInactiveConversations, crm.updates[0].event)
	assert.Equal(t, []string{"c-old-1", "c-old-2"}, crm.updates[0].data.(map[string]any)["conversationIds"])
}

func TestNotifications_InactivityReportedOncePerIdlePeriod(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	chats := repository.NewMockChatRepository()
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("c-%d", i)
		chats.AddConversation(id, "s1", "s1", "b1")
		chats.SetLastMessageAt(id, now.Add(-10*24*time.Hour))
	}

	notifier := &recordingNotifier{}
	crm := &recordingCRM{}
	h := NewNotificationHandlers(notifier, crm, chats, &mockTriggers{}, zap.NewNop())
	h.now = func() time.Time { return now }
	h.pageSize = 2
	r := NewRegistry()
	h.Register(r)
	ctx := context.Background()
	check := jobFor(t, domain.CRMInactivityCheck{InactiveDays: 7})

	require.NoError(t, r.Dispatch(ctx, check))
	require.Len(t, notifier.sent, 1, "every page is folded into one notification per seller")
	assert.Equal(t, []string{"c-1", "c-2", "c-3", "c-4", "c-5"}, crm.updates[0].data.(map[string]any)["conversationIds"])

	// The recurring job fires again within the same idle period.
	for i := 0; i < 23; i++ {
		now = now.Add(time.Hour)
		require.NoError(t, r.Dispatch(ctx, check))
	}
	assert.Len(t, notifier.sent, 1, "an idle conversation is reported once")

	// New activity, then silence again: reported anew.
	chats.SetLastMessageAt("c-3", now.Add(time.Hour))
	now = now.Add(8 * 24 * time.Hour)
	require.NoError(t, r.Dispatch(ctx, check))
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, []string{"c-3"}, crm.updates[1].data.(map[string]any)["conversationIds"])
}

func TestNotifications_InactivityRetriesUnnotifiedSellers(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	chats := repository.NewMockChatRepository()
	chats.AddConversation("c-1", "s1", "s1", "b1")
	chats.AddConversation("c-2", "s2", "s2", "b1")
	chats.SetLastMessageAt("c-1", now.Add(-10*24*time.Hour))
	chats.SetLastMessageAt("c-2", now.Add(-10*24*time.Hour))

	notifier := &recordingNotifier{fail: map[string]error{"s2": errors.New("db down")}}
	h := NewNotificationHandlers(notifier, &recordingCRM{}, chats, &mockTriggers{}, zap.NewNop())
	h.now = func() time.Time { return now }
	r := NewRegistry()
	h.Register(r)
	ctx := context.Background()
	check := jobFor(t, domain.CRMInactivityCheck{InactiveDays: 7})

	assert.Error(t, r.Dispatch(ctx, check))
	require.Len(t, notifier.sent, 1)

	delete(notifier.fail, "s2")
	require.NoError(t, r.Dispatch(ctx, check))
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, "s2", notifier.sent[1].UserID, "only the seller that was missed is notified again")
}

// cancellingNotifier cancels the job context after a number of sends.
type cancellingNotifier struct {
	recordingNotifier
	after  int
	cancel context.CancelFunc
}

func (n *cancellingNotifier) Send(ctx context.Context, req domain.SendNotificationRequest) (*domain.Notification, error) {
	out, err := n.recordingNotifier.Send(ctx, req)
	if len(n.sent) == n.after {
		n.cancel()
	}
	return out, err
}

func TestNotifications_BulkInterruptedAfterProgressSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier := &cancellingNotifier{after: 2, cancel: cancel}
	r := NewRegistry()
	NewNotificationHandlers(notifier, &recordingCRM{}, repository.NewMockChatRepository(), &mockTriggers{}, zap.NewNop()).Register(r)

	bulk := domain.BulkNotification{UserIDs: []string{"u1", "u2", "u3", "u4"}, Template: domain.NotificationTemplate{Title: "Sale"}}
	err := r.Dispatch(ctx, jobFor(t, bulk))
	require.NoError(t, err, "a retry would notify u1 and u2 twice")
	assert.Len(t, notifier.sent, 2)
}

func TestNotifications_BulkCancelledBeforeAnySendRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	notifier := &recordingNotifier{}
	r := NewRegistry()
	NewNotificationHandlers(notifier, &recordingCRM{}, repository.NewMockChatRepository(), &mockTriggers{}, zap.NewNop()).Register(r)

	bulk := domain.BulkNotification{UserIDs: []string{"u1"}, Template: domain.NotificationTemplate{Title: "Sale"}}
	err := r.Dispatch(ctx, jobFor(t, bulk))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, notifier.sent)
}

func TestNotifications_AutoTrigger(t *testing.T) {
	triggers := &mockTriggers{}
	triggers.On("Execute", mock.Anything, "t1", "c1").Return(nil).Once()
	r := NewRegistry()
	NewNotificationHandlers(&recordingNotifier{}, &recordingCRM{}, repository.NewMockChatRepository(), triggers, zap.NewNop()).Register(r)

	require.NoError(t, r.Dispatch(context.Background(), jobFor(t, domain.AutoTrigger{TriggerID: "t1", ConversationID: "c1"})))
	triggers.AssertExpectations(t)
}

// ---- email ----

func TestEmail_SendsUnreadNotification(t *testing.T) {
	ctx := context.Background()
	notifications := repository.NewMockNotificationRepository()
	require.NoError(t, notifications.Create(ctx, &domain.Notification{ID: "n1", UserID: "u1", Title: "Order shipped", Message: "On its way"}))
	users := repository.NewMockUserRepository(&domain.User{ID: "u1", Email: "u1@example.com"})

	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mock.MatchedBy(func(e *domain.Email) bool {
		return e.To == "u1@example.com" && e.Subject == "Order shipped" && e.NotificationID == "n1"
	})).Return(&provider.Receipt{MessageID: "m1"}, nil).Once()

	r := NewRegistry()
	NewEmailHandlers(notifications, users, mailer, zap.NewNop()).Register(r)
	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.NotificationEmail{UserID: "u1", NotificationID: "n1"})))
	mailer.AssertExpectations(t)
}

func TestEmail_SkipsReadAndFailsMissing(t *testing.T) {
	ctx := context.Background()
	notifications := repository.NewMockNotificationRepository()
	require.NoError(t, notifications.Create(ctx, &domain.Notification{ID: "n1", UserID: "u1", Title: "t"}))
	_, err := notifications.MarkAllRead(ctx, "u1", time.Now())
	require.NoError(t, err)

	mailer := &mockMailer{}
	r := NewRegistry()
	NewEmailHandlers(notifications, repository.NewMockUserRepository(), mailer, zap.NewNop()).Register(r)

	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.NotificationEmail{UserID: "u1", NotificationID: "n1"})))
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	err = r.Dispatch(ctx, jobFor(t, domain.NotificationEmail{UserID: "u1", NotificationID: "missing"}))
	assert.True(t, IsPermanent(err))
}

// ---- payouts ----

func TestPayouts_DefaultsPeriodEndToNow(t *testing.T) {
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	batcher := &mockBatcher{}
	batcher.On("RunBatch", mock.Anything, now).Return(12, nil).Once()

	h := NewPayoutHandlers(batcher, zap.NewNop())
	h.now = func() time.Time { return now }
	r := NewRegistry()
	h.Register(r)

	require.NoError(t, r.Dispatch(context.Background(), jobFor(t, domain.WeeklyPayoutBatch{})))
	batcher.AssertExpectations(t)
}

// ---- subscriptions ----

func TestSubscriptions_NoOpWhenStateChanged(t *testing.T) {
	subs := repository.NewMockSubscriptionRepository(
		&domain.Subscription{ID: "active", UserID: "u1", PlanName: "Pro", Status: domain.SubscriptionActive},
		&domain.Subscription{ID: "canceled", UserID: "u2", Status: domain.SubscriptionCanceled, CancelAtPeriodEnd: true},
		&domain.Subscription{ID: "recovered", UserID: "u3", Status: domain.SubscriptionActive},
	)
	notifier := &recordingNotifier{}
	r := NewRegistry()
	NewSubscriptionHandlers(subs, notifier, zap.NewNop()).Register(r)
	ctx := context.Background()

	// The user turned off cancel-at-period-end after the job was scheduled.
	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.CancelAtPeriodEnd{SubscriptionID: "active"})))
	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.RenewalReminder{SubscriptionID: "canceled", DaysBefore: 3})))
	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.PaymentFailedFollowup{SubscriptionID: "recovered", Attempt: 2})))

	assert.Empty(t, notifier.sent)
	s, _ := subs.GetByID(ctx, "active")
	assert.Equal(t, domain.SubscriptionActive, s.Status)
}

func TestSubscriptions_ActWhenStateHolds(t *testing.T) {
	subs := repository.NewMockSubscriptionRepository(
		&domain.Subscription{ID: "ending", UserID: "u1", PlanName: "Pro", Status: domain.SubscriptionActive, CancelAtPeriodEnd: true},
		&domain.Subscription{ID: "renewing", UserID: "u2", PlanName: "Pro", Status: domain.SubscriptionActive},
		&domain.Subscription{ID: "overdue", UserID: "u3", PlanName: "Pro", Status: domain.SubscriptionPastDue},
	)
	notifier := &recordingNotifier{}
	r := NewRegistry()
	NewSubscriptionHandlers(subs, notifier, zap.NewNop()).Register(r)
	ctx := context.Background()

	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.CancelAtPeriodEnd{SubscriptionID: "ending"})))
	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.RenewalReminder{SubscriptionID: "renewing", DaysBefore: 3})))
	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.PaymentFailedFollowup{SubscriptionID: "overdue", Attempt: 1})))

	require.Len(t, notifier.sent, 3)
	assert.Equal(t, NotificationTypeCanceled, notifier.sent[0].Type)
	assert.Equal(t, NotificationTypeRenewalReminder, notifier.sent[1].Type)
	assert.Equal(t, NotificationTypePaymentFailed, notifier.sent[2].Type)

	s, _ := subs.GetByID(ctx, "ending")
	assert.Equal(t, domain.SubscriptionCanceled, s.Status)

	// Replaying the cancel job is harmless.
	require.NoError(t, r.Dispatch(ctx, jobFor(t, domain.CancelAtPeriodEnd{SubscriptionID: "ending"})))
	assert.Len(t, notifier.sent, 3)

	err := r.Dispatch(ctx, jobFor(t, domain.RenewalReminder{SubscriptionID: "ghost"}))
	assert.True(t, IsPermanent(err))
}
