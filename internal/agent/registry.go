package agent

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jarvishq/jarvis/pkg/cerr"
)

// Registry holds the agent roster. The roster is loaded from a YAML file at
// startup; an unreadable file yields the built-in default roster instead of a
// startup failure.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent // keyed by lowercase token
}

type rosterFile struct {
	Agents []*Agent `yaml:"agents"`
}

func defaultRoster() []*Agent {
	return []*Agent{
		{ID: "dev", Name: "Developer", Role: RoleImplementer, IsDefault: true},
		{ID: "sentinel", Name: "Security", Role: RoleSecurity},
		{ID: "bridge", Name: "Integration", Role: RoleIntegration},
		{ID: "architect", Name: "Planning", Role: RolePlanning},
		{ID: "inspector", Name: "QA", Role: RoleQA},
	}
}

func NewRegistry() *Registry {
	r := &Registry{agents: make(map[string]*Agent)}
	for _, a := range defaultRoster() {
		r.agents[a.ID] = a
	}
	return r
}

// LoadFile replaces the roster with the file's contents. Errors keep the
// current roster.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse roster: %w", err)
	}
	if len(file.Agents) == 0 {
		return fmt.Errorf("roster %s contains no agents", path)
	}

	agents := make(map[string]*Agent, len(file.Agents))
	for _, a := range file.Agents {
		token := strings.ToLower(strings.TrimSpace(a.ID))
		if token == "" {
			return fmt.Errorf("roster %s contains an agent without an id", path)
		}
		a.ID = token
		agents[token] = a
	}

	r.mu.Lock()
	r.agents = agents
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[strings.ToLower(strings.TrimSpace(id))]
	return a, ok
}

func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Default returns the fallback agent for unrouted work.
func (r *Registry) Default() *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.IsDefault {
			return a
		}
	}
	// Deterministic fallback when no agent is flagged.
	var ids []string
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return nil
	}
	return r.agents[ids[0]]
}

// ForRole returns an agent carrying the role, or the default agent when none
// does.
func (r *Registry) ForRole(role Role) *Agent {
	r.mu.RLock()
	var candidates []string
	for id, a := range r.agents {
		if a.Role == role {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()
	if len(candidates) == 0 {
		return r.Default()
	}
	sort.Strings(candidates)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[candidates[0]]
}

// Delete removes an agent from the roster. The default agent cannot be
// deleted.
func (r *Registry) Delete(id string) error {
	token := strings.ToLower(strings.TrimSpace(id))
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[token]
	if !ok {
		return cerr.NewError(cerr.NotFound, "agent not found", nil)
	}
	if a.IsDefault {
		return cerr.NewError(cerr.FailedPrecondition, "the default agent cannot be deleted", nil)
	}
	delete(r.agents, token)
	return nil
}
