package sessions

import (
	"testing"

	"fibo_bot/internal/models"
)

func TestNext(t *testing.T) {
	cases := []struct {
		from models.PositionState
		ev   fsmEvent
		want models.PositionState
		ok   bool
	}{
		{models.StatePendingEntry1, evEntry1Filled, models.StateOpenEntry1Only, true},
		{models.StatePendingEntry1, evEntryExpired, models.StateCancelled, true},
		{models.StatePendingEntry1, evStopHit, models.StatePendingEntry1, false},
		{models.StateOpenEntry1Only, evEntry2Filled, models.StateOpenBothEntries, true},
		{models.StateOpenEntry1Only, evStopHit, models.StateStopped, true},
		{models.StateOpenEntry1Only, evTargetsDone, models.StateClosed, true},
		{models.StateOpenBothEntries, evStopHit, models.StateStopped, true},
		{models.StateOpenBothEntries, evEntry2Filled, models.StateOpenBothEntries, false},
		{models.StateClosed, evStopHit, models.StateClosed, false},
		{models.StateCancelled, evEntry1Filled, models.StateCancelled, false},
	}
	for _, tc := range cases {
		got, err := next(tc.from, tc.ev)
		if got != tc.want || (err == nil) != tc.ok {
			t.Errorf("%s --%s--> %s, err=%v; want %s ok=%v", tc.from, tc.ev, got, err, tc.want, tc.ok)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, st := range []models.PositionState{models.StateClosed, models.StateStopped, models.StateCancelled} {
		if len(transitions[st]) != 0 {
			t.Errorf("%s has outgoing transitions", st)
		}
	}
}
