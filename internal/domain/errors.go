package domain

import "errors"

// Validation faults: reported to the caller, never retried.
var (
	ErrNoAccounts          = errors.New("no accounts configured for user")
	ErrAlreadyRunning      = errors.New("automation already running")
	ErrDayAlreadyScheduled = errors.New("a batch was already scheduled for this user today")
	ErrUserNotFound        = errors.New("user not found")
	ErrDriveFolderDenied   = errors.New("google drive folder is not readable with the configured credentials")
)

// Dependency-unavailable faults. Each wraps ErrServiceUnavailable.
var (
	ErrServiceUnavailable      = errors.New("service unavailable")
	ErrNoWorkers               = serviceUnavailable("no workers available")
	ErrBrokerUnreachable       = serviceUnavailable("broker unreachable")
	ErrCredentialsMissing      = serviceUnavailable("no google service account credentials configured")
	ErrCredentialsFileNotFound = serviceUnavailable("configured google service account file not found")
	ErrCredentialsInvalid      = serviceUnavailable("google service account file is invalid")
)

// ErrTransient marks infrastructure faults worth retrying with backoff.
var ErrTransient = errors.New("transient infrastructure fault")

// ErrInterrupted marks a job cancelled while running that was not stopped by
// the user, e.g. on worker shutdown. It is transient and redelivered without
// spending the job's retry budget.
var ErrInterrupted error = &wrappedError{msg: "job interrupted", parent: ErrTransient}

// Job-logic and data-integrity faults.
var (
	ErrUploadFailed      = errors.New("upload failed")
	ErrOrphanedJob       = errors.New("orphaned job: task record or account no longer exists")
	ErrTaskNotFound      = errors.New("task not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrHandleAlreadySet  = errors.New("broker handle already set")
)

// Fatal faults surfaced after retries or rollbacks.
var (
	ErrSchedulingFailed = errors.New("scheduling failed")
	ErrStopFailed       = errors.New("failed to update task statuses when stopping automation")
)

type wrappedError struct {
	msg    string
	parent error
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.parent }

func serviceUnavailable(msg string) error {
	return &wrappedError{msg: msg, parent: ErrServiceUnavailable}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
