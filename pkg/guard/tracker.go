package guard

import (
	"sync"
	"time"
)

// UserStatus is the per-user standing reported to callers.
type UserStatus struct {
	UserID          string      `json:"user_id"`
	BlockedAttempts int         `json:"blocked_attempts"`
	SuspicionEvents int         `json:"suspicion_events"`
	Flagged         bool        `json:"flagged"`
	LastBlocked     time.Time   `json:"last_blocked,omitempty"`
	BlockHistory    []time.Time `json:"block_history,omitempty"`
}

type userRecord struct {
	blocked   int
	suspicion int
	history   []time.Time
}

// tracker keeps per-user block and suspicion counters. A user is flagged
// once their blocked-attempt count reaches the threshold.
type tracker struct {
	mu          sync.Mutex
	users       map[string]*userRecord
	threshold   int
	historySize int
}

func newTracker(threshold, historySize int) *tracker {
	if threshold <= 0 {
		threshold = 5
	}
	if historySize <= 0 {
		historySize = 20
	}
	return &tracker{
		users:       make(map[string]*userRecord),
		threshold:   threshold,
		historySize: historySize,
	}
}

func (t *tracker) record(userID string) *userRecord {
	rec, ok := t.users[userID]
	if !ok {
		rec = &userRecord{}
		t.users[userID] = rec
	}
	return rec
}

func (t *tracker) recordBlock(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(userID)
	rec.blocked++
	rec.history = append(rec.history, time.Now())
	if len(rec.history) > t.historySize {
		rec.history = rec.history[len(rec.history)-t.historySize:]
	}
}

func (t *tracker) recordSuspicion(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(userID).suspicion++
}

func (t *tracker) status(userID string) UserStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	status := UserStatus{UserID: userID}
	rec, ok := t.users[userID]
	if !ok {
		return status
	}
	status.BlockedAttempts = rec.blocked
	status.SuspicionEvents = rec.suspicion
	status.Flagged = rec.blocked >= t.threshold
	if n := len(rec.history); n > 0 {
		status.LastBlocked = rec.history[n-1]
		status.BlockHistory = append([]time.Time(nil), rec.history...)
	}
	return status
}

func (t *tracker) reset(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.users, userID)
}
