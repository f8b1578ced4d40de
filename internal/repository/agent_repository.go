package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kkkkikiki/promo/internal/model"
	"github.com/kkkkikiki/promo/internal/registry"
)

// AgentRepository reads the agent directory table
type AgentRepository struct {
	db DBExecutor
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db DBExecutor) *AgentRepository {
	return &AgentRepository{db: db}
}

// ListAgents returns all agents ordered by name
func (r *AgentRepository) ListAgents(ctx context.Context) ([]model.Agent, error) {
	query := `
		SELECT id, name
		FROM agents
		ORDER BY name ASC, id ASC
	`

	var agents []model.Agent
	if err := r.db.SelectContext(ctx, &agents, query); err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

// GetAgent retrieves an agent by ID
func (r *AgentRepository) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	query := `SELECT id, name FROM agents WHERE id = $1`

	var agent model.Agent
	if err := r.db.GetContext(ctx, &agent, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}

// UpsertAgent inserts an agent or renames an existing one
func (r *AgentRepository) UpsertAgent(ctx context.Context, agent model.Agent) error {
	query := `
		INSERT INTO agents (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`

	if _, err := r.db.ExecContext(ctx, query, agent.ID, agent.Name); err != nil {
		return fmt.Errorf("failed to upsert agent: %w", err)
	}
	return nil
}
