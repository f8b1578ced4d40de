package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/promo/internal/metrics"
	"github.com/kkkkikiki/promo/internal/model"
	"github.com/kkkkikiki/promo/internal/notify"
	"github.com/kkkkikiki/promo/internal/registry"
)

var (
	errInvalidStatus         = errors.New("status must be Unassigned or Assigned")
	errNotificationsDisabled = errors.New("notifications are disabled")
)

// Notifier publishes and reads notification feeds
type Notifier interface {
	Publish(ctx context.Context, recipient string, kind model.NotificationKind, title, message string) (model.Notification, error)
	List(ctx context.Context, recipient string, limit int) (notify.Feed, error)
	MarkRead(ctx context.Context, id string) error
}

// PromoServer implements the promo service
type PromoServer struct {
	registry *registry.Registry
	agents   registry.AgentDirectory
	notifier Notifier
	log      *zap.Logger
}

// NewPromoServer creates a new PromoServer instance. notifier may be nil.
func NewPromoServer(reg *registry.Registry, agents registry.AgentDirectory, notifier Notifier, log *zap.Logger) *PromoServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &PromoServer{
		registry: reg,
		agents:   agents,
		notifier: notifier,
		log:      log,
	}
}

// GenerateCodes creates a batch of sequential codes for a prefix
func (s *PromoServer) GenerateCodes(
	ctx context.Context,
	req *connect.Request[GenerateCodesRequest],
) (*connect.Response[GenerateCodesResponse], error) {
	start := time.Now()
	result := "failed"
	defer func() {
		metrics.RecordOperationDuration("generate", result, time.Since(start).Seconds())
	}()

	codes, err := s.registry.Generate(ctx, req.Msg.Prefix, req.Msg.Count)
	if err != nil {
		s.alertOnStoreFailure(ctx, "generate", err)
		return nil, toConnectError(err)
	}
	result = "success"
	metrics.CodesGenerated.Add(float64(len(codes)))

	s.publish(ctx, notify.RecipientAdmin, model.NotificationInfo, "Promo codes generated",
		fmt.Sprintf("%d codes generated from %s to %s", len(codes), codes[0].Code, codes[len(codes)-1].Code))

	return connect.NewResponse(&GenerateCodesResponse{Codes: codes}), nil
}

// AssignCodes assigns the selected codes to one agent
func (s *PromoServer) AssignCodes(
	ctx context.Context,
	req *connect.Request[AssignCodesRequest],
) (*connect.Response[AssignCodesResponse], error) {
	start := time.Now()
	result := "failed"
	defer func() {
		metrics.RecordOperationDuration("assign", result, time.Since(start).Seconds())
	}()

	agent, err := s.resolveAgent(ctx, req.Msg.AgentID)
	if err != nil {
		return nil, toConnectError(err)
	}

	updated, err := s.registry.Assign(ctx, req.Msg.CodeIDs, agent)
	if err != nil {
		s.alertOnStoreFailure(ctx, "assign", err)
		return nil, toConnectError(err)
	}
	result = "success"
	metrics.CodesAssigned.WithLabelValues("single").Add(float64(updated))

	s.publish(ctx, notify.AgentRecipient(agent.ID), model.NotificationSuccess, "Promo codes assigned",
		fmt.Sprintf("%d promo codes were assigned to you", updated))

	return connect.NewResponse(&AssignCodesResponse{Updated: updated}), nil
}

// BulkAssignUnassigned gives every unassigned code to one agent
func (s *PromoServer) BulkAssignUnassigned(
	ctx context.Context,
	req *connect.Request[BulkAssignUnassignedRequest],
) (*connect.Response[BulkAssignUnassignedResponse], error) {
	start := time.Now()
	result := "failed"
	defer func() {
		metrics.RecordOperationDuration("bulk_assign", result, time.Since(start).Seconds())
	}()

	agent, err := s.resolveAgent(ctx, req.Msg.AgentID)
	if err != nil {
		return nil, toConnectError(err)
	}

	updated, err := s.registry.BulkAssignUnassigned(ctx, agent)
	if err != nil {
		s.alertOnStoreFailure(ctx, "bulk assign", err)
		return nil, toConnectError(err)
	}
	result = "success"
	metrics.CodesAssigned.WithLabelValues("bulk").Add(float64(updated))

	s.publish(ctx, notify.AgentRecipient(agent.ID), model.NotificationSuccess, "Promo codes assigned",
		fmt.Sprintf("%d promo codes were assigned to you", updated))
	s.publish(ctx, notify.RecipientAdmin, model.NotificationInfo, "Bulk assignment complete",
		fmt.Sprintf("%d unassigned codes assigned to %s", updated, agent.Name))

	return connect.NewResponse(&BulkAssignUnassignedResponse{Updated: updated}), nil
}

// ListCodes returns the registry in insertion order
func (s *PromoServer) ListCodes(
	ctx context.Context,
	req *connect.Request[ListCodesRequest],
) (*connect.Response[ListCodesResponse], error) {
	status := model.Status(req.Msg.Status)
	if status != "" && !status.Valid() {
		return nil, connect.NewError(connect.CodeInvalidArgument, errInvalidStatus)
	}
	codes := s.registry.FindCodes(registry.CodeFilter{Status: status, AgentID: req.Msg.AgentID})
	return connect.NewResponse(&ListCodesResponse{Codes: codes}), nil
}

// ListAgents returns the agents codes can be assigned to
func (s *PromoServer) ListAgents(
	ctx context.Context,
	req *connect.Request[ListAgentsRequest],
) (*connect.Response[ListAgentsResponse], error) {
	agents, err := s.agents.ListAgents(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to list agents: %w", err))
	}
	return connect.NewResponse(&ListAgentsResponse{Agents: agents}), nil
}

// RedeemCode logs a customer redemption against an assigned code
func (s *PromoServer) RedeemCode(
	ctx context.Context,
	req *connect.Request[RedeemCodeRequest],
) (*connect.Response[RedeemCodeResponse], error) {
	start := time.Now()
	result := "failed"
	defer func() {
		metrics.RecordOperationDuration("redeem", result, time.Since(start).Seconds())
	}()

	in := registry.RedeemInput{
		Code:          req.Msg.Code,
		CustomerName:  req.Msg.CustomerName,
		CustomerPhone: req.Msg.CustomerPhone,
	}
	if req.Msg.RedeemedAt != nil {
		in.RedeemedAt = req.Msg.RedeemedAt.UTC()
	}

	redemption, err := s.registry.Redeem(ctx, in)
	if err != nil {
		s.alertOnStoreFailure(ctx, "redeem", err)
		return nil, toConnectError(err)
	}
	result = "success"
	metrics.Redemptions.Inc()

	return connect.NewResponse(&RedeemCodeResponse{Redemption: redemption}), nil
}

// ListRedemptions returns logged redemptions, newest first
func (s *PromoServer) ListRedemptions(
	ctx context.Context,
	req *connect.Request[ListRedemptionsRequest],
) (*connect.Response[ListRedemptionsResponse], error) {
	redemptions, err := s.registry.Redemptions(ctx, model.RedemptionFilter{
		Code:    req.Msg.Code,
		AgentID: req.Msg.AgentID,
		Limit:   req.Msg.Limit,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListRedemptionsResponse{Redemptions: redemptions}), nil
}

// GetReport returns status counts and per-agent totals
func (s *PromoServer) GetReport(
	ctx context.Context,
	req *connect.Request[GetReportRequest],
) (*connect.Response[GetReportResponse], error) {
	return connect.NewResponse(&GetReportResponse{Report: s.registry.Report()}), nil
}

// ListNotifications returns the newest entries of a notification feed
func (s *PromoServer) ListNotifications(
	ctx context.Context,
	req *connect.Request[ListNotificationsRequest],
) (*connect.Response[ListNotificationsResponse], error) {
	if s.notifier == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errNotificationsDisabled)
	}

	feed, err := s.notifier.List(ctx, req.Msg.Recipient, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListNotificationsResponse{
		Notifications: feed.Notifications,
		Unread:        feed.Unread,
	}), nil
}

// MarkNotificationRead flags one notification as read
func (s *PromoServer) MarkNotificationRead(
	ctx context.Context,
	req *connect.Request[MarkNotificationReadRequest],
) (*connect.Response[MarkNotificationReadResponse], error) {
	if s.notifier == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errNotificationsDisabled)
	}

	if err := s.notifier.MarkRead(ctx, req.Msg.ID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&MarkNotificationReadResponse{}), nil
}

func (s *PromoServer) resolveAgent(ctx context.Context, id string) (*model.Agent, error) {
	if id == "" {
		return nil, registry.ErrAgentRequired
	}
	return s.agents.GetAgent(ctx, id)
}

// publish never fails the calling operation; the mutation has already been applied
func (s *PromoServer) publish(ctx context.Context, recipient string, kind model.NotificationKind, title, message string) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Publish(ctx, recipient, kind, title, message); err != nil {
		metrics.NotificationFailures.Inc()
		s.log.Warn("failed to publish notification",
			zap.String("recipient", recipient),
			zap.String("title", title),
			zap.Error(err),
		)
	}
}

func (s *PromoServer) alertOnStoreFailure(ctx context.Context, operation string, err error) {
	if !errors.Is(err, registry.ErrStoreWrite) {
		return
	}
	s.log.Error("store write failed", zap.String("operation", operation), zap.Error(err))
	s.publish(ctx, notify.RecipientAdmin, model.NotificationAlert, "Datastore write failed",
		fmt.Sprintf("%s was not applied: %v", operation, err))
}

func toConnectError(err error) error {
	switch {
	case registry.IsValidation(err), errors.Is(err, notify.ErrRecipientMissing):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, registry.ErrAgentNotFound),
		errors.Is(err, registry.ErrCodeNotFound),
		errors.Is(err, notify.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, registry.ErrNoUnassignedCodes), errors.Is(err, registry.ErrCodeNotAssigned):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, registry.ErrStoreWrite):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
