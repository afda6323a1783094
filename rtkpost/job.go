package rtkpost

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goblimey/go-rtkpost/corrections"
)

// State is the stage a job has reached.
type State int

const (
	Pending State = iota
	Converting
	FetchingCorrections
	Solving
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Converting:
		return "Converting"
	case FetchingCorrections:
		return "FetchingCorrections"
	case Solving:
		return "Solving"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal returns true for Completed and Failed.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Job is one run of the post-processing pipeline over a raw UBX file.
type Job struct {
	ID string
	// Source is the raw UBX file.
	Source string
	// Start overrides the start of the observations, which is otherwise the
	// time of the first usable fix in Source.
	Start time.Time

	State State
	// WorkDir is the job's scratch directory.
	WorkDir string
	// Class is the class of the correction products used.  It's only
	// meaningful if Corrections is not empty.
	Class corrections.ProductClass
	// Corrections are the correction files used.
	Corrections []corrections.Ref
	// Missing are the correction files that could not be fetched.
	Missing   []*corrections.CorrectionFetchError
	Solutions []Solution
	// Observed is the start of the observations and Through is the end,
	// both zero if the job failed before they were found.
	Observed time.Time
	Through  time.Time
	// Err is the reason for failure.
	Err error

	Started  time.Time
	Finished time.Time
}

// NewJob creates a pending job for a raw UBX file.
func NewJob(source string) *Job {
	return &Job{ID: uuid.NewString(), Source: source, State: Pending}
}

// Run is the record of a finished job, kept so that a source can be
// processed again when better corrections become available.
type Run struct {
	JobID  string `json:"job_id" db:"job_id"`
	Source string `json:"source" db:"source"`
	State  string `json:"state" db:"state"`
	// Class is the product class used, empty if there were no
	// corrections.
	Class     string    `json:"class" db:"class"`
	Solutions int       `json:"solutions" db:"solutions"`
	Missing   int       `json:"missing" db:"missing"`
	Error     string    `json:"error" db:"error"`
	Observed  time.Time `json:"observed" db:"observed"`
	Through   time.Time `json:"through" db:"through"`
	Finished  time.Time `json:"finished" db:"finished"`
}

// Record returns the run record of a terminal job.
func (j *Job) Record() Run {
	run := Run{
		JobID:     j.ID,
		Source:    j.Source,
		State:     j.State.String(),
		Solutions: len(j.Solutions),
		Missing:   len(j.Missing),
		Observed:  j.Observed,
		Through:   j.Through,
		Finished:  j.Finished,
	}
	if len(j.Corrections) > 0 {
		run.Class = j.Class.String()
	}
	if j.Err != nil {
		run.Error = j.Err.Error()
	}
	return run
}
