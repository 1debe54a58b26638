package sessions

import (
	"fmt"

	"fibo_bot/internal/models"
)

type fsmEvent string

const (
	evEntry1Filled fsmEvent = "entry1_filled"
	evEntry2Filled fsmEvent = "entry2_filled"
	evEntryExpired fsmEvent = "entry_expired" // cancel, timeout or early cancel without a fill
	evStopHit      fsmEvent = "stop_hit"
	evTargetsDone  fsmEvent = "targets_done" // every target consumed or nothing left open
)

// transitions is the whole lifecycle. A pair missing from the table is an
// illegal move and leaves the state unchanged.
var transitions = map[models.PositionState]map[fsmEvent]models.PositionState{
	models.StatePendingEntry1: {
		evEntry1Filled: models.StateOpenEntry1Only,
		evEntryExpired: models.StateCancelled,
	},
	models.StateOpenEntry1Only: {
		evEntry2Filled: models.StateOpenBothEntries,
		evStopHit:      models.StateStopped,
		evTargetsDone:  models.StateClosed,
	},
	models.StateOpenBothEntries: {
		evStopHit:     models.StateStopped,
		evTargetsDone: models.StateClosed,
	},
}

func next(from models.PositionState, ev fsmEvent) (models.PositionState, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("illegal transition %s --%s-->", from, ev)
	}
	return to, nil
}
