package models

import (
	"fmt"
	"strings"
	"time"
)

// Broker job names.
const (
	JobUpload      = "automation:upload"
	JobScheduleDay = "automation:schedule_day"
)

// Handle identifies a dispatched job inside the broker ("<queue>:<id>").
type Handle string

// NewHandle builds a handle from a queue name and a broker task id.
func NewHandle(queue, id string) Handle {
	return Handle(queue + ":" + id)
}

// Split returns the queue and task id encoded in h.
func (h Handle) Split() (queue, id string, err error) {
	queue, id, ok := strings.Cut(string(h), ":")
	if !ok || queue == "" || id == "" {
		return "", "", fmt.Errorf("malformed broker handle %q", string(h))
	}
	return queue, id, nil
}

// Job is a unit handed to the broker.
type Job struct {
	Name    string
	Payload any
	ETA     time.Time
	// UniqueID, when set, becomes the broker task id so a repeated dispatch is detected.
	UniqueID string
}

// UploadPayload is the body of a JobUpload message.
type UploadPayload struct {
	TaskID string `json:"task_id"`
}

// ScheduleDayPayload is the body of a JobScheduleDay message.
type ScheduleDayPayload struct {
	UserID string `json:"user_id"`
}

// JobState is the live view of a dispatched job.
type JobState struct {
	State   string     `json:"state"`
	Result  []byte     `json:"result,omitempty"`
	LastErr string     `json:"last_err,omitempty"`
	Retried int        `json:"retried"`
	DoneAt  *time.Time `json:"done_at,omitempty"`
}

// UploadRequest is everything the upload collaborator receives for one run.
type UploadRequest struct {
	TaskID              string   `json:"task_id"`
	UserID              string   `json:"user_id"`
	Email               string   `json:"email"`
	Password            string   `json:"password"`
	Platforms           []string `json:"platforms"`
	GoogleDriveFolderID string   `json:"google_drive_folder_id"`
	CredentialsFile     string   `json:"credentials_file,omitempty"`
	FacebookPageID      string   `json:"facebook_page_id,omitempty"`
	FacebookGroupID     string   `json:"facebook_group_id,omitempty"`
	FacebookPostToPage  bool     `json:"facebook_post_to_page"`
	FacebookPostToGroup bool     `json:"facebook_post_to_group"`
}

// AutomationStatus is one row of the reconciled status view.
type AutomationStatus struct {
	TaskID        string     `json:"task_id"`
	AccountID     string     `json:"account_id"`
	Title         string     `json:"title"`
	Status        TaskStatus `json:"status"`
	Progress      int        `json:"progress"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	BrokerState   string     `json:"broker_state,omitempty"`
	Result        string     `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
}
