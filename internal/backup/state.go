package backup

import (
	"sync"
	"time"
)

// OperationType distinguishes export from import in BackupState history.
type OperationType string

const (
	OperationIdle   OperationType = "idle"
	OperationExport OperationType = "export"
	OperationImport OperationType = "import"
)

// OperationStatus is the lifecycle state of an in-flight or completed
// backup operation.
type OperationStatus string

const (
	StatusIdle       OperationStatus = "idle"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
)

// HistoryRecord is one completed operation kept in the state's history log.
type HistoryRecord struct {
	Type          OperationType
	Status        OperationStatus
	AccountsCount int
	LastError     string
	FinishedAt    time.Time
}

// State tracks the current backup/restore operation's progress and a log
// of past operations, thread-safe for concurrent admin-surface access.
type State struct {
	mu sync.Mutex

	opType   OperationType
	status   OperationStatus
	progress float64
	lastErr  string

	history []HistoryRecord
}

// NewState returns a State in the idle state.
func NewState() *State {
	return &State{opType: OperationIdle, status: StatusIdle}
}

// Begin marks an operation started.
func (s *State) Begin(t OperationType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opType = t
	s.status = StatusInProgress
	s.progress = 0
	s.lastErr = ""
}

// SetProgress updates the fraction (0..1) complete.
func (s *State) SetProgress(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	s.progress = p
}

// Finish marks the current operation complete, successfully or not, and
// appends a history record.
func (s *State) Finish(accountsCount int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusCompleted
	errMsg := ""
	if err != nil {
		status = StatusFailed
		errMsg = err.Error()
	} else {
		s.progress = 1
	}
	s.status = status
	s.lastErr = errMsg

	s.history = append(s.history, HistoryRecord{
		Type:          s.opType,
		Status:        status,
		AccountsCount: accountsCount,
		LastError:     errMsg,
		FinishedAt:    time.Now(),
	})
}

// Snapshot is the current operation's observable state.
type Snapshot struct {
	Type      OperationType
	Status    OperationStatus
	Progress  float64
	LastError string
}

// Current returns the current operation snapshot.
func (s *State) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Type: s.opType, Status: s.status, Progress: s.progress, LastError: s.lastErr}
}

// History returns a copy of the completed-operation log.
func (s *State) History() []HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryRecord, len(s.history))
	copy(out, s.history)
	return out
}
