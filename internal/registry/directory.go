package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/kkkkikiki/promo/internal/model"
)

// StaticDirectory is an AgentDirectory over a fixed set of agents
type StaticDirectory struct {
	agents []model.Agent
	byID   map[string]model.Agent
}

// NewStaticDirectory builds a directory from id -> name pairs, ordered by name
func NewStaticDirectory(agents map[string]string) *StaticDirectory {
	d := &StaticDirectory{byID: make(map[string]model.Agent, len(agents))}
	for id, name := range agents {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		agent := model.Agent{ID: id, Name: strings.TrimSpace(name)}
		d.agents = append(d.agents, agent)
		d.byID[id] = agent
	}
	sort.Slice(d.agents, func(i, j int) bool {
		if d.agents[i].Name != d.agents[j].Name {
			return d.agents[i].Name < d.agents[j].Name
		}
		return d.agents[i].ID < d.agents[j].ID
	})
	return d
}

func (d *StaticDirectory) ListAgents(ctx context.Context) ([]model.Agent, error) {
	out := make([]model.Agent, len(d.agents))
	copy(out, d.agents)
	return out, nil
}

func (d *StaticDirectory) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	agent, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return &agent, nil
}
