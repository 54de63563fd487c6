package subscription_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alfylabs/billing/svc/subscription"
)

// Mock implementations
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *mockStore) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockStore) FindByInvoiceID(ctx context.Context, invoiceID string) (*subscription.Subscription, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockStore) FindActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) (*subscription.Subscription, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockStore) FindOpenByUser(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]subscription.Subscription, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]subscription.Subscription), args.Error(1)
}

func (m *mockStore) CompareAndTransition(ctx context.Context, invoiceID string, expected, next subscription.Status, apply func(*subscription.Subscription)) (*subscription.Subscription, error) {
	args := m.Called(ctx, invoiceID, expected, next, apply)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *mockStore) SweepExpired(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]subscription.Subscription), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateInvoice(ctx context.Context, spec subscription.InvoiceSpec) (*subscription.GatewayInvoice, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.GatewayInvoice), args.Error(1)
}

func (m *mockGateway) ExpireInvoice(ctx context.Context, invoiceID string) error {
	args := m.Called(ctx, invoiceID)
	return args.Error(0)
}

func (m *mockGateway) VerifyCallbackToken(presented string) bool {
	args := m.Called(presented)
	return args.Bool(0)
}

type mockEntitlements struct {
	mock.Mock
}

func (m *mockEntitlements) Activate(ctx context.Context, userID uuid.UUID, plan string, endDate, paidAt time.Time) error {
	args := m.Called(ctx, userID, plan, endDate, paidAt)
	return args.Error(0)
}

func (m *mockEntitlements) Deactivate(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func testConfig() subscription.Config {
	return subscription.Config{
		DailyPrice:      99,
		WeeklyPrice:     499,
		Currency:        "PHP",
		ClientDomain:    "https://chat.example.com",
		InvoiceDuration: 24 * time.Hour,
		GatewayTimeout:  time.Second,
		HistoryLimit:    5,
	}
}

func testUser() subscription.User {
	return subscription.User{ID: uuid.New(), Email: "user@example.com", Name: "Test User"}
}

func TestService_Request_InvalidPlan(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	gateway := &mockGateway{}
	svc := subscription.NewService(testConfig(), store, gateway, nil, nil)

	_, err := svc.Request(context.Background(), testUser(), "monthly")
	require.ErrorIs(t, err, subscription.ErrInvalidPlan)

	store.AssertNotCalled(t, "FindOpenByUser", mock.Anything, mock.Anything)
	gateway.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
}

func TestService_Request_Success(t *testing.T) {
	t.Parallel()

	user := testUser()
	store := &mockStore{}
	gateway := &mockGateway{}

	store.On("FindOpenByUser", mock.Anything, user.ID).
		Return(nil, subscription.ErrSubscriptionNotFound).Once()

	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	gateway.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(spec subscription.InvoiceSpec) bool {
		return spec.Amount == 99 &&
			spec.Currency == "PHP" &&
			spec.CustomerEmail == user.Email &&
			spec.Duration == 24*time.Hour &&
			strings.HasPrefix(spec.ExternalID, "sub_"+user.ID.String()+"_daily_") &&
			strings.HasSuffix(spec.SuccessRedirectURL, "/subscription/success") &&
			strings.HasSuffix(spec.FailureRedirectURL, "/subscription/failed")
	})).Return(&subscription.GatewayInvoice{
		InvoiceID: "inv_123",
		URL:       "https://checkout.xendit.co/inv_123",
		ExpiresAt: expiresAt,
	}, nil).Once()

	store.On("Create", mock.Anything, mock.MatchedBy(func(sub *subscription.Subscription) bool {
		return sub.Status == subscription.StatusPending &&
			sub.UserID == user.ID &&
			sub.Plan == subscription.PlanDaily &&
			sub.InvoiceID == "inv_123" &&
			sub.Amount == 99 &&
			sub.EndDate.Sub(sub.StartDate) == 24*time.Hour
	})).Return(nil).Once()

	svc := subscription.NewService(testConfig(), store, gateway, nil, nil)
	result, err := svc.Request(context.Background(), user, subscription.PlanDaily)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "https://checkout.xendit.co/inv_123", result.InvoiceURL)
	assert.Equal(t, expiresAt, result.ExpiresAt)
	assert.Equal(t, subscription.StatusPending, result.Subscription.Status)

	store.AssertExpectations(t)
	gateway.AssertExpectations(t)
}

func TestService_Request_AlreadySubscribed(t *testing.T) {
	t.Parallel()

	user := testUser()
	existing := &subscription.Subscription{
		ID:     uuid.New(),
		UserID: user.ID,
		Status: subscription.StatusActive,
	}

	store := &mockStore{}
	gateway := &mockGateway{}
	store.On("FindOpenByUser", mock.Anything, user.ID).Return(existing, nil).Once()

	svc := subscription.NewService(testConfig(), store, gateway, nil, nil)
	_, err := svc.Request(context.Background(), user, subscription.PlanWeekly)

	require.ErrorIs(t, err, subscription.ErrAlreadySubscribed)
	var already *subscription.AlreadySubscribedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, existing.ID, already.Existing.ID)

	// The second gateway invoice must never be created.
	gateway.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_Request_PendingBlocksSecondRequest(t *testing.T) {
	t.Parallel()

	// Property: an immediate second request, while the first invoice is still
	// unpaid, must not create a second gateway invoice.
	user := testUser()
	store := subscription.NewMemoryStore()
	gateway := &mockGateway{}
	gateway.On("CreateInvoice", mock.Anything, mock.Anything).Return(&subscription.GatewayInvoice{
		InvoiceID: "inv_first",
		URL:       "https://checkout.xendit.co/inv_first",
	}, nil).Once()

	svc := subscription.NewService(testConfig(), store, gateway, nil, nil)

	_, err := svc.Request(context.Background(), user, subscription.PlanDaily)
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), user, subscription.PlanDaily)
	require.ErrorIs(t, err, subscription.ErrAlreadySubscribed)

	gateway.AssertNumberOfCalls(t, "CreateInvoice", 1)
}

func TestService_Request_GatewayFailureLeavesNoRecord(t *testing.T) {
	t.Parallel()

	user := testUser()
	store := &mockStore{}
	gateway := &mockGateway{}

	store.On("FindOpenByUser", mock.Anything, user.ID).
		Return(nil, subscription.ErrSubscriptionNotFound).Once()
	gateway.On("CreateInvoice", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).Once()

	svc := subscription.NewService(testConfig(), store, gateway, nil, nil)
	_, err := svc.Request(context.Background(), user, subscription.PlanDaily)

	require.ErrorIs(t, err, subscription.ErrGatewayUnavailable)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_Request_RaceLoserGetsConflict(t *testing.T) {
	t.Parallel()

	user := testUser()
	store := &mockStore{}
	gateway := &mockGateway{}

	// Both racers pass the open-subscription check before either persists;
	// the store constraint rejects the loser.
	store.On("FindOpenByUser", mock.Anything, user.ID).
		Return(nil, subscription.ErrSubscriptionNotFound).Once()
	gateway.On("CreateInvoice", mock.Anything, mock.Anything).Return(&subscription.GatewayInvoice{
		InvoiceID: "inv_loser",
		URL:       "https://checkout.xendit.co/inv_loser",
	}, nil).Once()
	store.On("Create", mock.Anything, mock.Anything).
		Return(subscription.ErrSubscriptionExists).Once()
	// The orphaned remote invoice is expired as compensation.
	gateway.On("ExpireInvoice", mock.Anything, "inv_loser").Return(nil).Once()

	svc := subscription.NewService(testConfig(), store, gateway, nil, nil)
	_, err := svc.Request(context.Background(), user, subscription.PlanDaily)

	require.ErrorIs(t, err, subscription.ErrSubscriptionConflict)
	gateway.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestService_Status(t *testing.T) {
	t.Parallel()

	user := testUser()
	active := &subscription.Subscription{ID: uuid.New(), UserID: user.ID, Status: subscription.StatusActive}
	history := []subscription.Subscription{*active, {ID: uuid.New(), Status: subscription.StatusExpired}}

	store := &mockStore{}
	store.On("FindActiveByUser", mock.Anything, user.ID, mock.Anything).Return(active, nil).Once()
	store.On("ListByUser", mock.Anything, user.ID, 5).Return(history, nil).Once()

	svc := subscription.NewService(testConfig(), store, &mockGateway{}, nil, nil)
	result, err := svc.Status(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, active.ID, result.Active.ID)
	assert.Len(t, result.History, 2)
	store.AssertExpectations(t)
}

func TestService_Status_NoActiveSubscription(t *testing.T) {
	t.Parallel()

	user := testUser()
	store := &mockStore{}
	store.On("FindActiveByUser", mock.Anything, user.ID, mock.Anything).
		Return(nil, subscription.ErrSubscriptionNotFound).Once()
	store.On("ListByUser", mock.Anything, user.ID, 5).
		Return([]subscription.Subscription{}, nil).Once()

	svc := subscription.NewService(testConfig(), store, &mockGateway{}, nil, nil)
	result, err := svc.Status(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Nil(t, result.Active)
	assert.Empty(t, result.History)
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()

	user := testUser()
	otherUser := uuid.New()
	subID := uuid.New()

	active := func() *subscription.Subscription {
		return &subscription.Subscription{
			ID:        subID,
			UserID:    user.ID,
			Status:    subscription.StatusActive,
			InvoiceID: "inv_cancel",
		}
	}

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		store := &mockStore{}
		entitlements := &mockEntitlements{}
		sub := active()
		store.On("FindByID", mock.Anything, subID).Return(sub, nil).Once()

		cancelled := *sub
		cancelled.Status = subscription.StatusCancelled
		store.On("CompareAndTransition", mock.Anything, "inv_cancel",
			subscription.StatusActive, subscription.StatusCancelled, mock.Anything).
			Return(&cancelled, nil).Once()
		entitlements.On("Deactivate", mock.Anything, user.ID).Return(nil).Once()

		svc := subscription.NewService(testConfig(), store, &mockGateway{}, entitlements, nil)
		got, err := svc.Cancel(context.Background(), user.ID, subID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, got.Status)

		store.AssertExpectations(t)
		entitlements.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		store := &mockStore{}
		store.On("FindByID", mock.Anything, subID).
			Return(nil, subscription.ErrSubscriptionNotFound).Once()

		svc := subscription.NewService(testConfig(), store, &mockGateway{}, nil, nil)
		_, err := svc.Cancel(context.Background(), user.ID, subID)
		require.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})

	t.Run("wrong owner", func(t *testing.T) {
		t.Parallel()

		store := &mockStore{}
		store.On("FindByID", mock.Anything, subID).Return(active(), nil).Once()

		svc := subscription.NewService(testConfig(), store, &mockGateway{}, nil, nil)
		_, err := svc.Cancel(context.Background(), otherUser, subID)
		require.ErrorIs(t, err, subscription.ErrNotOwner)
	})

	t.Run("not active", func(t *testing.T) {
		t.Parallel()

		store := &mockStore{}
		pending := active()
		pending.Status = subscription.StatusPending
		store.On("FindByID", mock.Anything, subID).Return(pending, nil).Once()

		svc := subscription.NewService(testConfig(), store, &mockGateway{}, nil, nil)
		_, err := svc.Cancel(context.Background(), user.ID, subID)
		require.ErrorIs(t, err, subscription.ErrNotActive)
	})

	t.Run("entitlement failure does not roll back", func(t *testing.T) {
		t.Parallel()

		store := &mockStore{}
		entitlements := &mockEntitlements{}
		sub := active()
		store.On("FindByID", mock.Anything, subID).Return(sub, nil).Once()

		cancelled := *sub
		cancelled.Status = subscription.StatusCancelled
		store.On("CompareAndTransition", mock.Anything, "inv_cancel",
			subscription.StatusActive, subscription.StatusCancelled, mock.Anything).
			Return(&cancelled, nil).Once()
		entitlements.On("Deactivate", mock.Anything, user.ID).
			Return(errors.New("mongo down")).Once()

		svc := subscription.NewService(testConfig(), store, &mockGateway{}, entitlements, nil)
		got, err := svc.Cancel(context.Background(), user.ID, subID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, got.Status)
	})
}
