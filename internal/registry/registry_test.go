package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/promo/internal/clock"
	"github.com/kkkkikiki/promo/internal/model"
)

type fakeStore struct {
	saved       [][]model.PromoCode
	assigned    [][]int64
	assignedTo  []model.Agent
	redemptions []model.Redemption
	loaded      []model.PromoCode

	saveErr   error
	assignErr error
	redeemErr error
	loadErr   error
}

func (f *fakeStore) SaveCodes(ctx context.Context, codes []model.PromoCode) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, codes)
	return nil
}

func (f *fakeStore) AssignCodes(ctx context.Context, ids []int64, agent model.Agent, at time.Time) error {
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assigned = append(f.assigned, ids)
	f.assignedTo = append(f.assignedTo, agent)
	return nil
}

func (f *fakeStore) SaveRedemption(ctx context.Context, redemption model.Redemption) error {
	if f.redeemErr != nil {
		return f.redeemErr
	}
	f.redemptions = append(f.redemptions, redemption)
	return nil
}

func (f *fakeStore) LoadCodes(ctx context.Context) ([]model.PromoCode, error) {
	return f.loaded, f.loadErr
}

var (
	johnDoe   = model.Agent{ID: "1", Name: "John Doe"}
	janeSmith = model.Agent{ID: "2", Name: "Jane Smith"}
	testNow   = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
)

func newTestRegistry(store Store) *Registry {
	return New(store, WithClock(clock.NewFixed(testNow)))
}

func seedDashboard(r *Registry) {
	john := johnDoe
	r.Seed(
		model.PromoCode{Code: "COOL1", Prefix: "COOL", Sequence: 1, Status: model.StatusUnassigned},
		model.PromoCode{Code: "COOL2", Prefix: "COOL", Sequence: 2, Status: model.StatusAssigned, Agent: &john},
	)
}

func TestGenerate_AppendsUnassignedCodes(t *testing.T) {
	r := newTestRegistry(nil)

	codes, err := r.Generate(context.Background(), "SPRING", 5)
	require.NoError(t, err)
	require.Len(t, codes, 5)

	for i, code := range codes {
		assert.Equal(t, fmt.Sprintf("SPRING%d", i+1), code.Code)
		assert.Equal(t, model.StatusUnassigned, code.Status)
		assert.Nil(t, code.Agent)
		assert.Equal(t, int64(i+1), code.ID)
		assert.Equal(t, testNow, code.CreatedAt)
	}
	assert.Len(t, r.Codes(""), 5)
}

func TestGenerate_RejectsMissingFields(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	_, err := r.Generate(ctx, "", 3)
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = r.Generate(ctx, "   ", 3)
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = r.Generate(ctx, "COOL", 0)
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = r.Generate(ctx, "COOL", -2)
	assert.ErrorIs(t, err, ErrMissingFields)

	assert.Empty(t, r.Codes(""))
}

func TestGenerate_RejectsOversizedBatch(t *testing.T) {
	r := New(nil, WithMaxGenerate(10))

	_, err := r.Generate(context.Background(), "BIG", 11)
	assert.ErrorIs(t, err, ErrTooManyCodes)
	assert.True(t, IsValidation(err))
	assert.Empty(t, r.Codes(""))
}

func TestGenerate_DoesNotTouchExistingCodes(t *testing.T) {
	r := newTestRegistry(nil)
	seedDashboard(r)
	before := r.Codes("")

	_, err := r.Generate(context.Background(), "SPRING", 2)
	require.NoError(t, err)

	after := r.Codes("")
	require.Len(t, after, 4)
	assert.Equal(t, before, after[:2])
}

func TestGenerate_ContinuesSequenceForRepeatedPrefix(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	first, err := r.Generate(ctx, "COOL", 5)
	require.NoError(t, err)
	second, err := r.Generate(ctx, "COOL", 5)
	require.NoError(t, err)

	assert.Equal(t, "COOL5", first[4].Code)
	assert.Equal(t, "COOL6", second[0].Code)
	assert.Equal(t, "COOL10", second[4].Code)

	seen := make(map[string]bool)
	for _, code := range r.Codes("") {
		assert.False(t, seen[code.Code], "duplicate code %s", code.Code)
		seen[code.Code] = true
	}
}

func TestGenerate_SkipsCodesTakenByAnotherPrefix(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()

	_, err := r.Generate(ctx, "A1", 1)
	require.NoError(t, err)

	codes, err := r.Generate(ctx, "A", 12)
	require.NoError(t, err)

	// "A" + 11 would collide with "A1" + 1
	var names []string
	for _, code := range codes {
		names = append(names, code.Code)
	}
	assert.NotContains(t, names, "A11")
	assert.Contains(t, names, "A13")
	assert.Len(t, names, 12)
}

func TestGenerate_WritesThroughStore(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(store)

	codes, err := r.Generate(context.Background(), "SUMMER", 3)
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, codes, store.saved[0])
}

func TestGenerate_StoreFailureLeavesCollectionUnchanged(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("connection reset")}
	r := newTestRegistry(store)

	_, err := r.Generate(context.Background(), "SUMMER", 3)
	require.ErrorIs(t, err, ErrStoreWrite)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, r.Codes(""))

	store.saveErr = nil
	codes, err := r.Generate(context.Background(), "SUMMER", 1)
	require.NoError(t, err)
	assert.Equal(t, "SUMMER1", codes[0].Code)
	assert.Equal(t, int64(1), codes[0].ID)
}

func TestAssign_LastWriteWins(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()
	codes, err := r.Generate(ctx, "WINTER", 2)
	require.NoError(t, err)

	a, b := johnDoe, janeSmith
	n, err := r.Assign(ctx, []int64{codes[0].ID}, &a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.Assign(ctx, []int64{codes[0].ID, codes[0].ID}, &b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := r.Codes(model.StatusAssigned)
	require.Len(t, got, 1)
	assert.Equal(t, "WINTER1", got[0].Code)
	assert.Equal(t, janeSmith, *got[0].Agent)
	require.NotNil(t, got[0].AssignedAt)
	assert.Equal(t, testNow, *got[0].AssignedAt)
}

func TestAssign_RejectsMissingAgentBeforeMutation(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(store)
	seedDashboard(r)

	_, err := r.Assign(context.Background(), []int64{1}, nil)
	assert.ErrorIs(t, err, ErrAgentRequired)

	_, err = r.Assign(context.Background(), []int64{1}, &model.Agent{Name: "No ID"})
	assert.ErrorIs(t, err, ErrAgentRequired)

	assert.Empty(t, store.assigned)
	assert.Len(t, r.Codes(model.StatusUnassigned), 1)
}

func TestAssign_RejectsUnknownOrEmptyIDs(t *testing.T) {
	r := newTestRegistry(nil)
	seedDashboard(r)
	agent := janeSmith

	_, err := r.Assign(context.Background(), nil, &agent)
	assert.ErrorIs(t, err, ErrNoCodesSelected)

	_, err = r.Assign(context.Background(), []int64{1, 99}, &agent)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	unassigned := r.Codes(model.StatusUnassigned)
	require.Len(t, unassigned, 1)
	assert.Equal(t, "COOL1", unassigned[0].Code)
}

func TestAssign_StoreFailureLeavesCollectionUnchanged(t *testing.T) {
	store := &fakeStore{assignErr: errors.New("timeout")}
	r := newTestRegistry(store)
	seedDashboard(r)
	agent := janeSmith

	_, err := r.Assign(context.Background(), []int64{1, 2}, &agent)
	require.ErrorIs(t, err, ErrStoreWrite)

	codes := r.Codes("")
	assert.Equal(t, model.StatusUnassigned, codes[0].Status)
	assert.Equal(t, johnDoe, *codes[1].Agent)
}

func TestBulkAssignUnassigned_DashboardScenario(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(store)
	seedDashboard(r)
	ctx := context.Background()

	_, err := r.Generate(ctx, "SPRING", 2)
	require.NoError(t, err)
	require.Len(t, r.Codes(""), 4)

	agent := janeSmith
	n, err := r.BulkAssignUnassigned(ctx, &agent)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want := map[string]string{
		"COOL1":   "Jane Smith",
		"COOL2":   "John Doe",
		"SPRING1": "Jane Smith",
		"SPRING2": "Jane Smith",
	}
	for _, code := range r.Codes("") {
		assert.Equal(t, model.StatusAssigned, code.Status, code.Code)
		require.NotNil(t, code.Agent, code.Code)
		assert.Equal(t, want[code.Code], code.Agent.Name, code.Code)
	}
	assert.Empty(t, r.Codes(model.StatusUnassigned))
	require.Len(t, store.assigned, 1)
	assert.Equal(t, []int64{1, 3, 4}, store.assigned[0])
}

func TestBulkAssignUnassigned_RejectsMissingAgent(t *testing.T) {
	r := newTestRegistry(nil)
	seedDashboard(r)
	before := r.Codes("")

	_, err := r.BulkAssignUnassigned(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAgentRequired)
	assert.Equal(t, before, r.Codes(""))
}

func TestBulkAssignUnassigned_RejectsEmptyPool(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(store)
	john := johnDoe
	r.Seed(model.PromoCode{Code: "COOL2", Status: model.StatusAssigned, Agent: &john})
	agent := janeSmith

	_, err := r.BulkAssignUnassigned(context.Background(), &agent)
	assert.ErrorIs(t, err, ErrNoUnassignedCodes)
	assert.Empty(t, store.assigned)
	assert.Equal(t, "John Doe", r.Codes("")[0].Agent.Name)
}

func TestCodes_ReturnsCopies(t *testing.T) {
	r := newTestRegistry(nil)
	seedDashboard(r)

	codes := r.Codes("")
	codes[1].Agent.Name = "Mallory"
	codes[0].Status = model.StatusAssigned

	fresh := r.Codes("")
	assert.Equal(t, "John Doe", fresh[1].Agent.Name)
	assert.Equal(t, model.StatusUnassigned, fresh[0].Status)
}

func TestRedeem(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(store)
	seedDashboard(r)
	ctx := context.Background()

	redemption, err := r.Redeem(ctx, RedeemInput{Code: " COOL2 ", CustomerName: "Asha", CustomerPhone: "+91 98200 00000"})
	require.NoError(t, err)
	assert.Equal(t, "COOL2", redemption.Code)
	assert.Equal(t, johnDoe.ID, redemption.AgentID)
	assert.Equal(t, testNow, redemption.RedeemedAt)
	assert.NotEmpty(t, redemption.ID)
	require.Len(t, store.redemptions, 1)

	assert.Equal(t, 1, r.Codes("")[1].Redemptions)

	_, err = r.Redeem(ctx, RedeemInput{Code: "COOL1", CustomerName: "Asha", CustomerPhone: "1"})
	assert.ErrorIs(t, err, ErrCodeNotAssigned)

	_, err = r.Redeem(ctx, RedeemInput{Code: "NOPE", CustomerName: "Asha", CustomerPhone: "1"})
	assert.ErrorIs(t, err, ErrCodeNotFound)

	_, err = r.Redeem(ctx, RedeemInput{Code: "COOL2", CustomerPhone: "1"})
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestRedeem_StoreFailureKeepsCount(t *testing.T) {
	store := &fakeStore{redeemErr: errors.New("unavailable")}
	r := newTestRegistry(store)
	seedDashboard(r)

	_, err := r.Redeem(context.Background(), RedeemInput{Code: "COOL2", CustomerName: "Asha", CustomerPhone: "1"})
	require.ErrorIs(t, err, ErrStoreWrite)
	assert.Zero(t, r.Codes("")[1].Redemptions)
}

func TestReport(t *testing.T) {
	r := newTestRegistry(nil)
	seedDashboard(r)
	ctx := context.Background()

	codes, err := r.Generate(ctx, "FALL", 3)
	require.NoError(t, err)
	jane := janeSmith
	_, err = r.Assign(ctx, []int64{codes[0].ID, codes[1].ID}, &jane)
	require.NoError(t, err)
	_, err = r.Redeem(ctx, RedeemInput{Code: "FALL1", CustomerName: "Ravi", CustomerPhone: "2"})
	require.NoError(t, err)
	_, err = r.Redeem(ctx, RedeemInput{Code: "COOL2", CustomerName: "Meera", CustomerPhone: "3"})
	require.NoError(t, err)

	report := r.Report()
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 2, report.Unassigned)
	assert.Equal(t, 3, report.Assigned)
	assert.Equal(t, 2, report.Redemptions)
	assert.Equal(t, []model.AgentStats{
		{AgentID: "2", Name: "Jane Smith", AssignedCodes: 2, Redemptions: 1},
		{AgentID: "1", Name: "John Doe", AssignedCodes: 1, Redemptions: 1},
	}, report.Agents)
}

func TestLoad_SeedsCounters(t *testing.T) {
	store := &fakeStore{loaded: []model.PromoCode{
		{ID: 7, Code: "COOL7", Prefix: "COOL", Sequence: 7, Status: model.StatusUnassigned},
		{ID: 3, Code: "COOL3", Prefix: "COOL", Sequence: 3, Status: model.StatusUnassigned},
	}}
	r := newTestRegistry(store)
	require.NoError(t, r.Load(context.Background()))

	codes := r.Codes("")
	require.Len(t, codes, 2)
	assert.Equal(t, int64(3), codes[0].ID)

	generated, err := r.Generate(context.Background(), "COOL", 1)
	require.NoError(t, err)
	assert.Equal(t, "COOL8", generated[0].Code)
	assert.Equal(t, int64(8), generated[0].ID)
}

func TestLoad_PropagatesStoreError(t *testing.T) {
	r := newTestRegistry(&fakeStore{loadErr: errors.New("boom")})
	err := r.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestStaticDirectory(t *testing.T) {
	d := NewStaticDirectory(map[string]string{"2": "Jane Smith", "1": "John Doe", "": "ignored"})

	agents, err := d.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Agent{janeSmith, johnDoe}, agents)

	agent, err := d.GetAgent(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, johnDoe, *agent)

	_, err = d.GetAgent(context.Background(), "9")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

type listingStore struct {
	fakeStore
	listed  []model.RedemptionFilter
	listErr error
}

func (l *listingStore) ListRedemptions(ctx context.Context, filter model.RedemptionFilter) ([]model.Redemption, error) {
	l.listed = append(l.listed, filter)
	if l.listErr != nil {
		return nil, l.listErr
	}
	return l.redemptions, nil
}

func TestFindCodes_FiltersByAgent(t *testing.T) {
	r := newTestRegistry(nil)
	seedDashboard(r)
	ctx := context.Background()

	codes, err := r.Generate(ctx, "FALL", 3)
	require.NoError(t, err)
	jane := janeSmith
	_, err = r.Assign(ctx, []int64{codes[0].ID, codes[2].ID}, &jane)
	require.NoError(t, err)

	mine := r.FindCodes(CodeFilter{AgentID: " 2 "})
	require.Len(t, mine, 2)
	assert.Equal(t, "FALL1", mine[0].Code)
	assert.Equal(t, "FALL3", mine[1].Code)

	johns := r.FindCodes(CodeFilter{AgentID: johnDoe.ID, Status: model.StatusAssigned})
	require.Len(t, johns, 1)
	assert.Equal(t, "COOL2", johns[0].Code)

	assert.Empty(t, r.FindCodes(CodeFilter{AgentID: "2", Status: model.StatusUnassigned}))
	assert.Len(t, r.FindCodes(CodeFilter{}), 5)
}

func TestRedemptions_InMemoryNewestFirst(t *testing.T) {
	r := newTestRegistry(nil)
	seedDashboard(r)
	ctx := context.Background()

	jane := janeSmith
	_, err := r.Assign(ctx, []int64{1}, &jane)
	require.NoError(t, err)

	for i, in := range []RedeemInput{
		{Code: "COOL2", CustomerName: "Asha", CustomerPhone: "1", RedeemedAt: testNow.Add(time.Hour)},
		{Code: "COOL1", CustomerName: "Ravi", CustomerPhone: "2", RedeemedAt: testNow.Add(3 * time.Hour)},
		{Code: "COOL2", CustomerName: "Meera", CustomerPhone: "3", RedeemedAt: testNow.Add(2 * time.Hour)},
	} {
		_, err := r.Redeem(ctx, in)
		require.NoError(t, err, "redemption %d", i)
	}

	all, err := r.Redemptions(ctx, model.RedemptionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Ravi", all[0].CustomerName)
	assert.Equal(t, "Meera", all[1].CustomerName)
	assert.Equal(t, "Asha", all[2].CustomerName)

	byCode, err := r.Redemptions(ctx, model.RedemptionFilter{Code: " COOL2 "})
	require.NoError(t, err)
	require.Len(t, byCode, 2)
	assert.Equal(t, "Meera", byCode[0].CustomerName)

	byAgent, err := r.Redemptions(ctx, model.RedemptionFilter{AgentID: janeSmith.ID})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, "COOL1", byAgent[0].Code)

	limited, err := r.Redemptions(ctx, model.RedemptionFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "Ravi", limited[0].CustomerName)

	none, err := r.Redemptions(ctx, model.RedemptionFilter{AgentID: "9"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRedemptions_DelegatesToStore(t *testing.T) {
	store := &listingStore{}
	store.redemptions = []model.Redemption{{ID: "r-1", Code: "COOL2", AgentID: "1"}}
	r := newTestRegistry(store)
	ctx := context.Background()

	got, err := r.Redemptions(ctx, model.RedemptionFilter{AgentID: " 1 ", Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, store.redemptions, got)
	require.Len(t, store.listed, 1)
	assert.Equal(t, model.RedemptionFilter{AgentID: "1", Limit: MaxRedemptionLimit}, store.listed[0])

	_, err = r.Redemptions(ctx, model.RedemptionFilter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRedemptionLimit, store.listed[1].Limit)

	store.listErr = errors.New("timeout")
	_, err = r.Redemptions(ctx, model.RedemptionFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
