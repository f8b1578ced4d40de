package model

import (
	"time"
)

// Status is the assignment state of a promo code
type Status string

const (
	StatusUnassigned Status = "Unassigned"
	StatusAssigned   Status = "Assigned"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	return s == StatusUnassigned || s == StatusAssigned
}

// Agent is a sales representative codes are distributed through
type Agent struct {
	ID   string `db:"id" json:"id" dynamodbav:"id"`
	Name string `db:"name" json:"name" dynamodbav:"name"`
}

// PromoCode represents a generated promo code
type PromoCode struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	Prefix      string     `json:"prefix"`
	Sequence    int        `json:"sequence"`
	Status      Status     `json:"status"`
	Agent       *Agent     `json:"agent,omitempty"`
	Redemptions int        `json:"redemptions"`
	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate registry state
func (p PromoCode) Clone() PromoCode {
	if p.Agent != nil {
		agent := *p.Agent
		p.Agent = &agent
	}
	if p.AssignedAt != nil {
		at := *p.AssignedAt
		p.AssignedAt = &at
	}
	return p
}

// Redemption records a customer redeeming a code handed out by an agent
type Redemption struct {
	ID            string    `db:"id" json:"id"`
	CodeID        int64     `db:"code_id" json:"code_id"`
	Code          string    `db:"code" json:"code"`
	AgentID       string    `db:"agent_id" json:"agent_id"`
	CustomerName  string    `db:"customer_name" json:"customer_name"`
	CustomerPhone string    `db:"customer_phone" json:"customer_phone"`
	RedeemedAt    time.Time `db:"redeemed_at" json:"redeemed_at"`
}

// RedemptionFilter narrows a redemption listing. Empty fields match everything.
type RedemptionFilter struct {
	Code    string
	AgentID string
	Limit   int
}

// Matches reports whether redemption passes the filter
func (f RedemptionFilter) Matches(redemption Redemption) bool {
	if f.Code != "" && redemption.Code != f.Code {
		return false
	}
	if f.AgentID != "" && redemption.AgentID != f.AgentID {
		return false
	}
	return true
}
