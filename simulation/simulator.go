package simulation

import (
	"fmt"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/rs/zerolog/log"
)

// Simulator projects actions against snapshots
type Simulator struct{}

var _ interfaces.Simulator = (*Simulator)(nil)

// NewSimulator creates a simulator
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Simulate returns the projected outcome of action against snapshot
func (s *Simulator) Simulate(action types.Action, snapshot *types.Snapshot) (*types.Outcome, error) {
	_, outcome, err := Apply(action, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to simulate action %s: %w", action.ID, err)
	}

	log.Debug().
		Str("actionId", action.ID).
		Str("actionType", string(action.Type())).
		Uint64("revision", snapshot.Revision).
		Bool("success", outcome.Success).
		Str("reason", outcome.Reason).
		Msg("Action simulated")

	return outcome, nil
}
