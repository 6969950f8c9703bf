package credits

import (
	"sync"

	"github.com/google/uuid"
)

// SlotTable enforces one in-flight evaluation per user. It is a process-local
// table: slots do not survive a restart, which is acceptable because the
// stale-job reaper force-fails any jobs orphaned by a crash.
type SlotTable struct {
	mu    sync.Mutex
	inUse map[uuid.UUID]uuid.UUID // userID -> jobID holding the slot
}

func NewSlotTable() *SlotTable {
	return &SlotTable{inUse: make(map[uuid.UUID]uuid.UUID)}
}

// TryAdmit claims the user's slot for jobID. It returns false, along with
// the job currently holding the slot, if the user already has one in flight.
func (s *SlotTable) TryAdmit(userID, jobID uuid.UUID) (bool, uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.inUse[userID]; ok {
		return false, holder
	}
	s.inUse[userID] = jobID
	return true, jobID
}

// Release frees the user's slot, but only if jobID still holds it. Releasing
// is idempotent: both the pipeline finalizer and the reaper may call it.
func (s *SlotTable) Release(userID, jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.inUse[userID]; ok && holder == jobID {
		delete(s.inUse, userID)
	}
}

// Holder reports which job currently holds the user's slot, if any.
func (s *SlotTable) Holder(userID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	holder, ok := s.inUse[userID]
	return holder, ok
}
