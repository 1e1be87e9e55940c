package domain

import (
	"encoding"
	"time"
)

type JobStatus string

const (
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
)

// JobRecord is the history entry kept for every conversion job.
// Cookie bytes are never part of it.
type JobRecord struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"requestId,omitempty"`
	TargetURL     string    `json:"targetUrl"`
	Pages         string    `json:"pages"`
	ExpandedPages string    `json:"expandedPages"`
	Status        JobStatus `json:"status"`
	DownloadPath  string    `json:"downloadPath,omitempty"`
	OutputBytes   int64     `json:"outputBytes"`
	ExitCode      int       `json:"exitCode"`
	// TraceParent stores the W3C trace context of the request that started the job.
	TraceParent string     `json:"traceParent,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

func (r *JobRecord) Finished() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

var (
	_ encoding.BinaryMarshaler = JobStatus("")
	_ encoding.TextMarshaler   = JobStatus("")
)

func (s JobStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s JobStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
