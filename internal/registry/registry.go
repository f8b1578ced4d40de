package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kkkkikiki/promo/internal/clock"
	"github.com/kkkkikiki/promo/internal/model"
)

const (
	// DefaultMaxGenerate caps a single generation call
	DefaultMaxGenerate = 10000

	DefaultRedemptionLimit = 100
	MaxRedemptionLimit     = 1000
)

// Store persists registry mutations. Every write must succeed before the
// registry applies the change in memory.
type Store interface {
	SaveCodes(ctx context.Context, codes []model.PromoCode) error
	AssignCodes(ctx context.Context, ids []int64, agent model.Agent, at time.Time) error
	SaveRedemption(ctx context.Context, redemption model.Redemption) error
	LoadCodes(ctx context.Context) ([]model.PromoCode, error)
}

// RedemptionReader is implemented by stores that can list logged redemptions
type RedemptionReader interface {
	ListRedemptions(ctx context.Context, filter model.RedemptionFilter) ([]model.Redemption, error)
}

// CodeFilter narrows Codes. Empty fields match everything.
type CodeFilter struct {
	Status  model.Status
	AgentID string
}

// AgentDirectory resolves the agents codes can be assigned to
type AgentDirectory interface {
	ListAgents(ctx context.Context) ([]model.Agent, error)
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
}

// RedeemInput describes a redemption logged by an agent
type RedeemInput struct {
	Code          string
	CustomerName  string
	CustomerPhone string
	RedeemedAt    time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger used for audit lines
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithMaxGenerate sets the per-call generation limit
func WithMaxGenerate(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxGenerate = n
		}
	}
}

// Registry owns the ordered set of promo codes and their assignment state
type Registry struct {
	mu          sync.Mutex
	store       Store
	clock       clock.Clock
	log         *zap.Logger
	maxGenerate int

	codes     []model.PromoCode
	positions map[int64]int
	byCode    map[string]int64
	sequences map[string]int
	nextID    int64

	// only consulted when the store cannot list redemptions
	redemptions []model.Redemption
}

// New creates an empty registry. A nil store keeps everything in memory.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		clock:       clock.NewSystem(),
		log:         zap.NewNop(),
		maxGenerate: DefaultMaxGenerate,
		positions:   make(map[int64]int),
		byCode:      make(map[string]int64),
		sequences:   make(map[string]int),
		nextID:      1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory collection with the store contents
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	codes, err := r.store.LoadCodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load promo codes: %w", err)
	}
	sort.SliceStable(codes, func(i, j int) bool { return codes[i].ID < codes[j].ID })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	for _, code := range codes {
		r.appendLocked(code)
	}
	r.log.Info("registry loaded", zap.Int("codes", len(codes)), zap.Int64("next_id", r.nextID))
	return nil
}

// Seed appends existing codes without going through the store
func (r *Registry) Seed(codes ...model.PromoCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, code := range codes {
		if code.ID == 0 {
			code.ID = r.nextID
		}
		r.appendLocked(code)
	}
}

func (r *Registry) reset() {
	r.codes = nil
	r.positions = make(map[int64]int)
	r.byCode = make(map[string]int64)
	r.sequences = make(map[string]int)
	r.nextID = 1
	r.redemptions = nil
}

func (r *Registry) appendLocked(code model.PromoCode) {
	r.positions[code.ID] = len(r.codes)
	r.byCode[code.Code] = code.ID
	r.codes = append(r.codes, code.Clone())
	if code.Prefix != "" && code.Sequence > r.sequences[code.Prefix] {
		r.sequences[code.Prefix] = code.Sequence
	}
	if code.ID >= r.nextID {
		r.nextID = code.ID + 1
	}
}

// Generate appends count new unassigned codes named prefix+sequence.
// Sequences continue per prefix across calls and skip codes already present.
func (r *Registry) Generate(ctx context.Context, prefix string, count int) ([]model.PromoCode, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || count <= 0 {
		return nil, ErrMissingFields
	}
	if count > r.maxGenerate {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyCodes, count, r.maxGenerate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	seq := r.sequences[prefix]
	batch := make([]model.PromoCode, 0, count)
	for i := 0; i < count; i++ {
		seq++
		code := prefix + strconv.Itoa(seq)
		for r.hasCodeLocked(code) {
			seq++
			code = prefix + strconv.Itoa(seq)
		}
		batch = append(batch, model.PromoCode{
			ID:        r.nextID + int64(i),
			Code:      code,
			Prefix:    prefix,
			Sequence:  seq,
			Status:    model.StatusUnassigned,
			CreatedAt: now,
		})
	}

	if r.store != nil {
		if err := r.store.SaveCodes(ctx, batch); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreWrite, err)
		}
	}

	out := make([]model.PromoCode, 0, len(batch))
	for _, code := range batch {
		r.appendLocked(code)
		out = append(out, code.Clone())
	}
	r.log.Info("promo codes generated",
		zap.String("prefix", prefix),
		zap.Int("count", count),
		zap.String("first", batch[0].Code),
		zap.String("last", batch[len(batch)-1].Code),
	)
	return out, nil
}

func (r *Registry) hasCodeLocked(code string) bool {
	_, ok := r.byCode[code]
	return ok
}

// Assign hands every listed code to agent, replacing any previous agent.
// It returns the number of codes updated.
func (r *Registry) Assign(ctx context.Context, ids []int64, agent *model.Agent) (int, error) {
	if !validAgent(agent) {
		return 0, ErrAgentRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assignLocked(ctx, ids, *agent)
}

// BulkAssignUnassigned assigns every code that is unassigned right now to agent
func (r *Registry) BulkAssignUnassigned(ctx context.Context, agent *model.Agent) (int, error) {
	if !validAgent(agent) {
		return 0, ErrAgentRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for _, code := range r.codes {
		if code.Status == model.StatusUnassigned {
			ids = append(ids, code.ID)
		}
	}
	if len(ids) == 0 {
		return 0, ErrNoUnassignedCodes
	}
	return r.assignLocked(ctx, ids, *agent)
}

func (r *Registry) assignLocked(ctx context.Context, ids []int64, agent model.Agent) (int, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, ErrNoCodesSelected
	}
	for _, id := range ids {
		if _, ok := r.positions[id]; !ok {
			return 0, fmt.Errorf("%w: id %d", ErrCodeNotFound, id)
		}
	}

	now := r.clock.Now()
	if r.store != nil {
		if err := r.store.AssignCodes(ctx, ids, agent, now); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrStoreWrite, err)
		}
	}

	for _, id := range ids {
		code := &r.codes[r.positions[id]]
		if code.Agent != nil && code.Agent.ID != agent.ID {
			r.log.Info("promo code reassigned",
				zap.String("code", code.Code),
				zap.String("from_agent", code.Agent.ID),
				zap.String("to_agent", agent.ID),
			)
		}
		assignee := agent
		at := now
		code.Status = model.StatusAssigned
		code.Agent = &assignee
		code.AssignedAt = &at
	}
	r.log.Info("promo codes assigned", zap.String("agent_id", agent.ID), zap.Int("count", len(ids)))
	return len(ids), nil
}

// Codes returns the collection in insertion order, optionally filtered by status
func (r *Registry) Codes(status model.Status) []model.PromoCode {
	return r.FindCodes(CodeFilter{Status: status})
}

// FindCodes returns the codes matching filter in insertion order
func (r *Registry) FindCodes(filter CodeFilter) []model.PromoCode {
	agentID := strings.TrimSpace(filter.AgentID)

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.PromoCode, 0, len(r.codes))
	for _, code := range r.codes {
		if filter.Status != "" && code.Status != filter.Status {
			continue
		}
		if agentID != "" && (code.Agent == nil || code.Agent.ID != agentID) {
			continue
		}
		out = append(out, code.Clone())
	}
	return out
}

// Redeem logs a customer redemption against an assigned code
func (r *Registry) Redeem(ctx context.Context, in RedeemInput) (model.Redemption, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.CustomerName)
	phone := strings.TrimSpace(in.CustomerPhone)
	if code == "" || name == "" || phone == "" {
		return model.Redemption{}, ErrMissingFields
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCode[code]
	if !ok {
		return model.Redemption{}, fmt.Errorf("%w: %s", ErrCodeNotFound, code)
	}
	promo := &r.codes[r.positions[id]]
	if promo.Status != model.StatusAssigned || promo.Agent == nil {
		return model.Redemption{}, fmt.Errorf("%w: %s", ErrCodeNotAssigned, code)
	}

	redeemedAt := in.RedeemedAt
	if redeemedAt.IsZero() {
		redeemedAt = r.clock.Now()
	}
	redemption := model.Redemption{
		ID:            uuid.NewString(),
		CodeID:        promo.ID,
		Code:          promo.Code,
		AgentID:       promo.Agent.ID,
		CustomerName:  name,
		CustomerPhone: phone,
		RedeemedAt:    redeemedAt,
	}
	if r.store != nil {
		if err := r.store.SaveRedemption(ctx, redemption); err != nil {
			return model.Redemption{}, fmt.Errorf("%w: %w", ErrStoreWrite, err)
		}
	}
	promo.Redemptions++
	r.redemptions = append(r.redemptions, redemption)
	return redemption, nil
}

// Redemptions lists logged redemptions, newest first
func (r *Registry) Redemptions(ctx context.Context, filter model.RedemptionFilter) ([]model.Redemption, error) {
	filter.Code = strings.TrimSpace(filter.Code)
	filter.AgentID = strings.TrimSpace(filter.AgentID)
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultRedemptionLimit
	case filter.Limit > MaxRedemptionLimit:
		filter.Limit = MaxRedemptionLimit
	}

	if reader, ok := r.store.(RedemptionReader); ok {
		redemptions, err := reader.ListRedemptions(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list redemptions: %w", err)
		}
		return redemptions, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Redemption
	for i := len(r.redemptions) - 1; i >= 0; i-- {
		if filter.Matches(r.redemptions[i]) {
			out = append(out, r.redemptions[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RedeemedAt.After(out[j].RedeemedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	if out == nil {
		out = []model.Redemption{}
	}
	return out, nil
}

// Report summarises status counts and per-agent totals
func (r *Registry) Report() model.Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := model.Report{Total: len(r.codes)}
	byAgent := make(map[string]*model.AgentStats)
	for _, code := range r.codes {
		report.Redemptions += code.Redemptions
		if code.Status != model.StatusAssigned || code.Agent == nil {
			report.Unassigned++
			continue
		}
		report.Assigned++
		stats, ok := byAgent[code.Agent.ID]
		if !ok {
			stats = &model.AgentStats{AgentID: code.Agent.ID, Name: code.Agent.Name}
			byAgent[code.Agent.ID] = stats
		}
		stats.AssignedCodes++
		stats.Redemptions += code.Redemptions
	}

	report.Agents = make([]model.AgentStats, 0, len(byAgent))
	for _, stats := range byAgent {
		report.Agents = append(report.Agents, *stats)
	}
	sort.Slice(report.Agents, func(i, j int) bool {
		if report.Agents[i].Name != report.Agents[j].Name {
			return report.Agents[i].Name < report.Agents[j].Name
		}
		return report.Agents[i].AgentID < report.Agents[j].AgentID
	})
	return report
}

func validAgent(agent *model.Agent) bool {
	return agent != nil && strings.TrimSpace(agent.ID) != ""
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
