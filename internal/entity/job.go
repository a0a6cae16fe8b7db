package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
)

// JobError is the structured failure detail recorded on a failed job.
type JobError struct {
	Message        string `json:"message"`
	Classification string `json:"classification"`
}

// Job represents a unit of asynchronous work for data transfer between layers.
// Status mutates only through the jobs.Operations transaction path.
type Job struct {
	ID             uuid.UUID           `json:"id"`
	JobType        constants.JobType   `json:"job_type"`
	Status         constants.JobStatus `json:"status"`
	InputRef       string              `json:"input_ref"`
	Options        json.RawMessage     `json:"options,omitempty"`
	Result         json.RawMessage     `json:"result,omitempty"`
	Error          *JobError           `json:"error,omitempty"`
	RetryCount     int                 `json:"retry_count"`
	DispatchHandle *string             `json:"dispatch_handle,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Clone returns a deep copy, used for before/after snapshots around locked
// mutations.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Options != nil {
		cp.Options = append(json.RawMessage(nil), j.Options...)
	}
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.DispatchHandle != nil {
		h := *j.DispatchHandle
		cp.DispatchHandle = &h
	}
	return &cp
}
