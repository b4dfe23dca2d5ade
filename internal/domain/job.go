package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a queued check job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobKind discriminates the payload a check job carries.
type JobKind string

const (
	// JobKindManualCheck re-checks a single trip by ID.
	JobKindManualCheck JobKind = "manual_check"
	// JobKindUserTrigger re-checks every active trip belonging to a user.
	JobKindUserTrigger JobKind = "user_trigger"
)

// Queue priorities. User-triggered jobs outrank single manual checks, and
// both outrank the automatic dispatch loop, which carries no priority at all.
const (
	PriorityUserTrigger = 10
	PriorityManualCheck = 5
)

var (
	ErrJobMissingTrip = errors.New("manual_check job requires a trip id")
	ErrJobMissingUser = errors.New("user_trigger job requires a user email")
)

// CheckJob is a user-initiated price check queued for the job processor.
// The Kind field discriminates the payload: manual_check carries TripID,
// user_trigger carries UserEmail.
type CheckJob struct {
	ID       string    `gorm:"type:text;primaryKey" json:"id"`
	Kind     JobKind   `gorm:"not null;index" json:"kind"`
	Status   JobStatus `gorm:"default:pending;index" json:"status"`
	Priority int       `gorm:"default:0;index" json:"priority"`

	TripID    string `gorm:"type:text" json:"trip_id,omitempty"`
	UserEmail string `gorm:"type:text" json:"user_email,omitempty"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
}

// TableName returns the database table name for CheckJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (CheckJob) TableName() string {
	return "check_jobs"
}

// NewManualCheckJob builds a pending single-trip check job.
func NewManualCheckJob(tripID string) (*CheckJob, error) {
	if tripID == "" {
		return nil, ErrJobMissingTrip
	}
	return &CheckJob{
		ID:       uuid.New().String(),
		Kind:     JobKindManualCheck,
		Status:   JobStatusPending,
		Priority: PriorityManualCheck,
		TripID:   tripID,
	}, nil
}

// NewUserTriggerJob builds a pending all-trips check job for one user.
func NewUserTriggerJob(userEmail string) (*CheckJob, error) {
	if userEmail == "" {
		return nil, ErrJobMissingUser
	}
	return &CheckJob{
		ID:        uuid.New().String(),
		Kind:      JobKindUserTrigger,
		Status:    JobStatusPending,
		Priority:  PriorityUserTrigger,
		UserEmail: userEmail,
	}, nil
}

// Validate checks that the job's payload matches its kind.
func (j *CheckJob) Validate() error {
	switch j.Kind {
	case JobKindManualCheck:
		if j.TripID == "" {
			return ErrJobMissingTrip
		}
	case JobKindUserTrigger:
		if j.UserEmail == "" {
			return ErrJobMissingUser
		}
	default:
		return errors.New("unknown job kind: " + string(j.Kind))
	}
	return nil
}

// Terminal reports whether the job has reached a final state.
func (j *CheckJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
