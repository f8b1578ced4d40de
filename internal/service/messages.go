package service

import (
	"time"

	"github.com/kkkkikiki/promo/internal/model"
)

type GenerateCodesRequest struct {
	Prefix string `json:"prefix"`
	Count  int    `json:"count"`
}

type GenerateCodesResponse struct {
	Codes []model.PromoCode `json:"codes"`
}

type AssignCodesRequest struct {
	CodeIDs []int64 `json:"code_ids"`
	AgentID string  `json:"agent_id"`
}

type AssignCodesResponse struct {
	Updated int `json:"updated"`
}

type BulkAssignUnassignedRequest struct {
	AgentID string `json:"agent_id"`
}

type BulkAssignUnassignedResponse struct {
	Updated int `json:"updated"`
}

type ListCodesRequest struct {
	// Status filters by Unassigned or Assigned; empty returns everything
	Status  string `json:"status,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

type ListCodesResponse struct {
	Codes []model.PromoCode `json:"codes"`
}

type ListAgentsRequest struct{}

type ListAgentsResponse struct {
	Agents []model.Agent `json:"agents"`
}

type RedeemCodeRequest struct {
	Code          string     `json:"code"`
	CustomerName  string     `json:"customer_name"`
	CustomerPhone string     `json:"customer_phone"`
	RedeemedAt    *time.Time `json:"redeemed_at,omitempty"`
}

type RedeemCodeResponse struct {
	Redemption model.Redemption `json:"redemption"`
}

type ListRedemptionsRequest struct {
	Code    string `json:"code,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type ListRedemptionsResponse struct {
	Redemptions []model.Redemption `json:"redemptions"`
}

type GetReportRequest struct{}

type GetReportResponse struct {
	Report model.Report `json:"report"`
}

type ListNotificationsRequest struct {
	Recipient string `json:"recipient"`
	Limit     int    `json:"limit,omitempty"`
}

type ListNotificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
	Unread        int                  `json:"unread"`
}

type MarkNotificationReadRequest struct {
	ID string `json:"id"`
}

type MarkNotificationReadResponse struct{}
