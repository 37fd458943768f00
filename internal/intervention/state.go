package intervention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jarvishq/jarvis/pkg/storage"
)

const statePath = "intervention_state.json"

// State is the persisted intervention cooldown record. It survives restarts
// so a crash right after an escalation cannot cause a rapid-fire repeat.
type State struct {
	LastInterventionFingerprint string    `json:"lastInterventionFingerprint"`
	LastInterventionAt          time.Time `json:"lastInterventionAt"`
}

// StateStore reads and atomically rewrites the state document.
type StateStore struct {
	storage storage.Storage
}

func NewStateStore(s storage.Storage) *StateStore {
	return &StateStore{storage: s}
}

// Load returns the zero state when no document exists or it is malformed;
// a bad state file must never block startup.
func (s *StateStore) Load(ctx context.Context) State {
	data, err := s.storage.Read(ctx, statePath)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("intervention: unreadable state file", "error", err)
		}
		return State{}
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}
	}
	return state
}

func (s *StateStore) Save(ctx context.Context, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal intervention state: %w", err)
	}
	if err := s.storage.Write(ctx, statePath, data); err != nil {
		return fmt.Errorf("persist intervention state: %w", err)
	}
	return nil
}
