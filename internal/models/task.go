package models

import (
	"fmt"
	"time"
)

// TaskStatus is the persisted lifecycle state of a task record.
// The string tag is what is stored in the status column.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskStopped    TaskStatus = "STOPPED"
)

// TaskStatusSetVersion must be bumped whenever a tag is added to AllTaskStatuses.
// The store rewrites its CHECK constraint when the stored version is older.
const TaskStatusSetVersion = 2

// AllTaskStatuses lists every valid tag in declaration order.
var AllTaskStatuses = []TaskStatus{TaskPending, TaskProcessing, TaskCompleted, TaskFailed, TaskStopped}

var transitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskProcessing, TaskStopped},
	TaskProcessing: {TaskCompleted, TaskFailed, TaskStopped},
}

// ParseTaskStatus converts a stored tag back into a TaskStatus.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	for _, s := range AllTaskStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", raw)
}

func (s TaskStatus) String() string { return string(s) }

// IsTerminal reports whether no transition leaves s.
func (s TaskStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may move to `to`.
func TransitionSources(to TaskStatus) []TaskStatus {
	var out []TaskStatus
	for _, from := range AllTaskStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Task is one scheduled upload job for a single account.
type Task struct {
	ID            string     `json:"id"`
	BrokerHandle  *string    `json:"broker_handle,omitempty"`
	UserID        string     `json:"user_id"`
	AccountID     string     `json:"account_id"`
	Title         string     `json:"title"`
	Status        TaskStatus `json:"status"`
	Progress      int        `json:"progress"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Handle returns the broker handle or an empty string when the task was never linked.
func (t *Task) Handle() string {
	if t == nil || t.BrokerHandle == nil {
		return ""
	}
	return *t.BrokerHandle
}
