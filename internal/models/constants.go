package models

const (
	// RunsPerDayMin and RunsPerDayMax bound the number of daily rounds per user.
	RunsPerDayMin = 10
	RunsPerDayMax = 15

	// MaxErrorMessageLen caps the error text stored on a failed task.
	MaxErrorMessageLen = 255

	// DefaultQueue is the broker queue used for automation jobs.
	DefaultQueue = "automation"

	// DayGuardTTLHours keeps a (user, day) claim long enough to span a UTC day boundary.
	DayGuardTTLHours = 48
)
