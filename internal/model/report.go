package model

import (
	"time"
)

// AgentStats aggregates the codes held by one agent
type AgentStats struct {
	AgentID       string `json:"agent_id"`
	Name          string `json:"name"`
	AssignedCodes int    `json:"assigned_codes"`
	Redemptions   int    `json:"redemptions"`
}

// Report is the admin overview of the registry
type Report struct {
	Total       int          `json:"total"`
	Unassigned  int          `json:"unassigned"`
	Assigned    int          `json:"assigned"`
	Redemptions int          `json:"redemptions"`
	Agents      []AgentStats `json:"agents"`
}

// NotificationKind classifies a notification for display
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "info"
	NotificationSuccess NotificationKind = "success"
	NotificationAlert   NotificationKind = "alert"
)

// Notification is a feed entry for an admin or an agent
type Notification struct {
	ID        string           `json:"id"`
	Recipient string           `json:"recipient"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
	Read      bool             `json:"read"`
}
