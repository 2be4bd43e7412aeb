package monitor

import (
	"time"

	"github.com/ocampo/fieldsync/internal/db"
	"github.com/ocampo/fieldsync/internal/queue"
	"github.com/ocampo/fieldsync/internal/status"
)

const historyTail = 50

// FetchData gathers everything the panels show. Errors are carried in the
// message rather than returned; the view renders them.
func FetchData(database *db.DB, q *queue.Queue, pub *status.Publisher) RefreshDataMsg {
	msg := RefreshDataMsg{
		Snapshot:  pub.Get(),
		Timestamp: time.Now(),
	}

	// The publisher only carries live state when an engine runs in this
	// process. Fall back to the stored sync state so the header shows the
	// last completed cycle either way.
	state, err := database.GetSyncState()
	if err != nil {
		msg.Err = err
		return msg
	}
	if msg.Snapshot.LastSyncTime == nil {
		msg.Snapshot.LastSyncTime = state.LastSyncAt
	}
	if msg.Snapshot.State == status.StateIdle && state.LastSyncAt != nil {
		msg.Snapshot.State = status.StateCompleted
	}

	pending, err := database.CountPending()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Pending = pending

	// ready items shown regardless of attempt count, so a stuck item is
	// visible before it dies
	ready, err := q.ReadyItems(int(^uint(0) >> 1))
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Ready = ready

	dead, err := q.DeadItems()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Dead = dead

	history, err := database.HistoryTail(historyTail)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.History = history

	return msg
}
