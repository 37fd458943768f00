package intervention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvishq/jarvis/pkg/storage"
)

func newStateStore(t *testing.T) *StateStore {
	t.Helper()
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return NewStateStore(local)
}

func TestStateLoadMissingIsZero(t *testing.T) {
	states := newStateStore(t)

	state := states.Load(context.Background())
	assert.Equal(t, State{}, state)
}

func TestStateLoadMalformedIsZero(t *testing.T) {
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, local.Write(ctx, statePath, []byte("{not json")))

	state := NewStateStore(local).Load(ctx)
	assert.Equal(t, State{}, state)
}

func TestStateSaveLoadRoundTrip(t *testing.T) {
	states := newStateStore(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	require.NoError(t, states.Save(ctx, State{
		LastInterventionFingerprint: "rate_limited",
		LastInterventionAt:          at,
	}))

	state := states.Load(ctx)
	assert.Equal(t, "rate_limited", state.LastInterventionFingerprint)
	assert.True(t, state.LastInterventionAt.Equal(at))
}
