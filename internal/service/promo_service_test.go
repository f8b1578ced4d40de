package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/promo/internal/clock"
	"github.com/kkkkikiki/promo/internal/model"
	"github.com/kkkkikiki/promo/internal/notify"
	"github.com/kkkkikiki/promo/internal/registry"
)

var testNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type failingStore struct{}

func (failingStore) SaveCodes(ctx context.Context, codes []model.PromoCode) error {
	return errors.New("connection refused")
}

func (failingStore) AssignCodes(ctx context.Context, ids []int64, agent model.Agent, at time.Time) error {
	return errors.New("connection refused")
}

func (failingStore) SaveRedemption(ctx context.Context, redemption model.Redemption) error {
	return errors.New("connection refused")
}

func (failingStore) LoadCodes(ctx context.Context) ([]model.PromoCode, error) {
	return nil, nil
}

type testEnv struct {
	client   *Client
	registry *registry.Registry
	notifier *notify.Notifier
}

func setupServer(t *testing.T, store registry.Store, withNotifier bool, opts ...connect.HandlerOption) *testEnv {
	t.Helper()

	reg := registry.New(store, registry.WithClock(clock.NewFixed(testNow)))
	agents := registry.NewStaticDirectory(map[string]string{
		"1": "John Doe",
		"2": "Jane Smith",
		"3": "Mike Johnson",
	})

	env := &testEnv{registry: reg}
	var notifier Notifier
	if withNotifier {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			rdb.Close()
			mr.Close()
		})
		env.notifier = notify.New(rdb, "test", time.Hour, clock.NewFixed(testNow))
		notifier = env.notifier
	}

	server := NewPromoServer(reg, agents, notifier, zap.NewNop())
	path, handler := NewHandler(server, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	env.client = NewClient(ts.Client(), ts.URL)
	return env
}

func TestGenerateAssignAndReport(t *testing.T) {
	env := setupServer(t, nil, true)
	ctx := context.Background()

	generated, err := env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "SPRING", Count: 3})
	require.NoError(t, err)
	require.Len(t, generated.Codes, 3)
	assert.Equal(t, "SPRING1", generated.Codes[0].Code)
	assert.Equal(t, "SPRING3", generated.Codes[2].Code)
	assert.Equal(t, model.StatusUnassigned, generated.Codes[0].Status)

	assigned, err := env.client.AssignCodes(ctx, &AssignCodesRequest{
		CodeIDs: []int64{generated.Codes[0].ID, generated.Codes[1].ID},
		AgentID: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, assigned.Updated)

	unassigned, err := env.client.ListCodes(ctx, &ListCodesRequest{Status: "Unassigned"})
	require.NoError(t, err)
	require.Len(t, unassigned.Codes, 1)
	assert.Equal(t, "SPRING3", unassigned.Codes[0].Code)

	bulk, err := env.client.BulkAssignUnassigned(ctx, &BulkAssignUnassignedRequest{AgentID: "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, bulk.Updated)

	report, err := env.client.GetReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Report.Total)
	assert.Equal(t, 3, report.Report.Assigned)
	assert.Zero(t, report.Report.Unassigned)
	require.Len(t, report.Report.Agents, 2)
	assert.Equal(t, "Jane Smith", report.Report.Agents[0].Name)
	assert.Equal(t, 2, report.Report.Agents[1].AssignedCodes)
}

func TestRedeemCode(t *testing.T) {
	env := setupServer(t, nil, false)
	ctx := context.Background()

	_, err := env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "COOL", Count: 2})
	require.NoError(t, err)
	_, err = env.client.AssignCodes(ctx, &AssignCodesRequest{CodeIDs: []int64{2}, AgentID: "1"})
	require.NoError(t, err)

	redeemedAt := testNow.Add(time.Hour)
	res, err := env.client.RedeemCode(ctx, &RedeemCodeRequest{
		Code:          "COOL2",
		CustomerName:  "Asha",
		CustomerPhone: "+254700000000",
		RedeemedAt:    &redeemedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "1", res.Redemption.AgentID)
	assert.True(t, redeemedAt.Equal(res.Redemption.RedeemedAt))

	_, err = env.client.RedeemCode(ctx, &RedeemCodeRequest{Code: "COOL1", CustomerName: "Asha", CustomerPhone: "1"})
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = env.client.RedeemCode(ctx, &RedeemCodeRequest{Code: "NOPE1", CustomerName: "Asha", CustomerPhone: "1"})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	report, err := env.client.GetReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Report.Redemptions)
}

func TestErrorCodes(t *testing.T) {
	env := setupServer(t, nil, false)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want connect.Code
	}{
		{
			name: "empty prefix",
			call: func() error {
				_, err := env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "", Count: 5})
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "zero count",
			call: func() error {
				_, err := env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "A", Count: 0})
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "missing agent",
			call: func() error {
				_, err := env.client.AssignCodes(ctx, &AssignCodesRequest{CodeIDs: []int64{1}})
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "unknown agent",
			call: func() error {
				_, err := env.client.AssignCodes(ctx, &AssignCodesRequest{CodeIDs: []int64{1}, AgentID: "99"})
				return err
			},
			want: connect.CodeNotFound,
		},
		{
			name: "no codes selected",
			call: func() error {
				_, err := env.client.AssignCodes(ctx, &AssignCodesRequest{AgentID: "1"})
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "empty pool",
			call: func() error {
				_, err := env.client.BulkAssignUnassigned(ctx, &BulkAssignUnassignedRequest{AgentID: "1"})
				return err
			},
			want: connect.CodeFailedPrecondition,
		},
		{
			name: "bad status filter",
			call: func() error {
				_, err := env.client.ListCodes(ctx, &ListCodesRequest{Status: "Redeemed"})
				return err
			},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "notifications disabled",
			call: func() error {
				_, err := env.client.ListNotifications(ctx, &ListNotificationsRequest{Recipient: "admin"})
				return err
			},
			want: connect.CodeUnimplemented,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.want, connect.CodeOf(err))
		})
	}
}

func TestNotificationsFollowMutations(t *testing.T) {
	env := setupServer(t, nil, true)
	ctx := context.Background()

	_, err := env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "SUMMER", Count: 4})
	require.NoError(t, err)
	_, err = env.client.BulkAssignUnassigned(ctx, &BulkAssignUnassignedRequest{AgentID: "3"})
	require.NoError(t, err)

	admin, err := env.client.ListNotifications(ctx, &ListNotificationsRequest{Recipient: notify.RecipientAdmin})
	require.NoError(t, err)
	require.Len(t, admin.Notifications, 2)
	assert.Equal(t, 2, admin.Unread)
	assert.Equal(t, "Bulk assignment complete", admin.Notifications[0].Title)
	assert.Equal(t, "Promo codes generated", admin.Notifications[1].Title)

	agent, err := env.client.ListNotifications(ctx, &ListNotificationsRequest{Recipient: notify.AgentRecipient("3")})
	require.NoError(t, err)
	require.Len(t, agent.Notifications, 1)
	assert.Equal(t, model.NotificationSuccess, agent.Notifications[0].Kind)
	assert.Contains(t, agent.Notifications[0].Message, "4 promo codes")

	require.NoError(t, env.client.MarkNotificationRead(ctx, agent.Notifications[0].ID))
	agent, err = env.client.ListNotifications(ctx, &ListNotificationsRequest{Recipient: notify.AgentRecipient("3")})
	require.NoError(t, err)
	assert.Zero(t, agent.Unread)

	err = env.client.MarkNotificationRead(ctx, "missing")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = env.client.ListNotifications(ctx, &ListNotificationsRequest{})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestStoreFailureRaisesAlert(t *testing.T) {
	env := setupServer(t, failingStore{}, true)
	ctx := context.Background()

	_, err := env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "WINTER", Count: 2})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))

	codes, err := env.client.ListCodes(ctx, &ListCodesRequest{})
	require.NoError(t, err)
	assert.Empty(t, codes.Codes)

	admin, err := env.client.ListNotifications(ctx, &ListNotificationsRequest{Recipient: notify.RecipientAdmin})
	require.NoError(t, err)
	require.Len(t, admin.Notifications, 1)
	assert.Equal(t, model.NotificationAlert, admin.Notifications[0].Kind)
}

func TestListAgents(t *testing.T) {
	env := setupServer(t, nil, false)

	res, err := env.client.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Agents, 3)
	assert.Equal(t, "Jane Smith", res.Agents[0].Name)
}

func TestRateLimitInterceptor(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	env := setupServer(t, nil, false,
		connect.WithInterceptors(NewRateLimitInterceptor(limiter, MutatingProcedures...)),
	)
	ctx := context.Background()

	_, err := env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "A", Count: 1})
	require.NoError(t, err)

	_, err = env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "A", Count: 1})
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))

	// reads are not limited
	_, err = env.client.GetReport(ctx)
	assert.NoError(t, err)
}

type listingFailStore struct {
	failingStore
}

func (listingFailStore) ListRedemptions(ctx context.Context, filter model.RedemptionFilter) ([]model.Redemption, error) {
	return nil, errors.New("connection refused")
}

func TestListRedemptionsAndAgentCodes(t *testing.T) {
	env := setupServer(t, nil, false)
	ctx := context.Background()

	_, err := env.client.GenerateCodes(ctx, &GenerateCodesRequest{Prefix: "COOL", Count: 3})
	require.NoError(t, err)
	_, err = env.client.AssignCodes(ctx, &AssignCodesRequest{CodeIDs: []int64{1, 3}, AgentID: "2"})
	require.NoError(t, err)
	_, err = env.client.AssignCodes(ctx, &AssignCodesRequest{CodeIDs: []int64{2}, AgentID: "1"})
	require.NoError(t, err)

	mine, err := env.client.ListCodes(ctx, &ListCodesRequest{AgentID: "2"})
	require.NoError(t, err)
	require.Len(t, mine.Codes, 2)
	assert.Equal(t, "COOL1", mine.Codes[0].Code)
	assert.Equal(t, "COOL3", mine.Codes[1].Code)

	for i, code := range []string{"COOL1", "COOL2", "COOL3"} {
		at := testNow.Add(time.Duration(i+1) * time.Hour)
		_, err := env.client.RedeemCode(ctx, &RedeemCodeRequest{
			Code: code, CustomerName: "Customer " + code, CustomerPhone: "1", RedeemedAt: &at,
		})
		require.NoError(t, err)
	}

	all, err := env.client.ListRedemptions(ctx, &ListRedemptionsRequest{})
	require.NoError(t, err)
	require.Len(t, all.Redemptions, 3)
	assert.Equal(t, "COOL3", all.Redemptions[0].Code)
	assert.Equal(t, "COOL1", all.Redemptions[2].Code)

	janes, err := env.client.ListRedemptions(ctx, &ListRedemptionsRequest{AgentID: "2"})
	require.NoError(t, err)
	require.Len(t, janes.Redemptions, 2)
	assert.Equal(t, "Customer COOL3", janes.Redemptions[0].CustomerName)

	byCode, err := env.client.ListRedemptions(ctx, &ListRedemptionsRequest{Code: "COOL2", Limit: 5})
	require.NoError(t, err)
	require.Len(t, byCode.Redemptions, 1)
	assert.Equal(t, "1", byCode.Redemptions[0].AgentID)

	none, err := env.client.ListRedemptions(ctx, &ListRedemptionsRequest{AgentID: "3"})
	require.NoError(t, err)
	assert.Empty(t, none.Redemptions)
}

func TestListRedemptionsStoreError(t *testing.T) {
	env := setupServer(t, listingFailStore{}, false)

	_, err := env.client.ListRedemptions(context.Background(), &ListRedemptionsRequest{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInternal, connect.CodeOf(err))
}
