// Package store persists personalization run records.
//
// Every streaming run and every single-page retry produces one Run record
// keyed by run ID. Page results are compressed before they are written so a
// full book fits comfortably inside a DynamoDB item. Records expire after a
// configurable TTL.
package store

import (
	"context"
	"time"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Kind distinguishes full runs from single-page retries.
type Kind string

const (
	KindStream Kind = "stream"
	KindPage   Kind = "page"
)

// Run is the stored summary of a run.
type Run struct {
	ID             string         `json:"runId" dynamodbav:"-"`
	Kind           Kind           `json:"kind" dynamodbav:"kind"`
	Status         Status         `json:"status" dynamodbav:"status"`
	ChildName      string         `json:"childName" dynamodbav:"childName"`
	Gender         string         `json:"gender" dynamodbav:"gender"`
	PageNumbers    []int          `json:"pageNumbers,omitempty" dynamodbav:"pageNumbers,omitempty"`
	Concurrency    int            `json:"concurrency,omitempty" dynamodbav:"concurrency,omitempty"`
	EnableFallback bool           `json:"enableFallback" dynamodbav:"enableFallback"`
	CreatedAt      int64          `json:"createdAt" dynamodbav:"createdAt"`
	CompletedAt    int64          `json:"completedAt,omitempty" dynamodbav:"completedAt,omitempty"`
	PortraitTimeMs int64          `json:"portraitTimeMs" dynamodbav:"portraitTimeMs"`
	PageTimeMs     int64          `json:"pageTimeMs" dynamodbav:"pageTimeMs"`
	TotalTimeMs    int64          `json:"totalTimeMs" dynamodbav:"totalTimeMs"`
	SuccessCount   int            `json:"successCount" dynamodbav:"successCount"`
	FailedCount    int            `json:"failedCount" dynamodbav:"failedCount"`
	FailedPoses    []string       `json:"failedPoses,omitempty" dynamodbav:"failedPoses,omitempty"`
	Methods        map[string]int `json:"methodBreakdown,omitempty" dynamodbav:"methods,omitempty"`
	Error          string         `json:"error,omitempty" dynamodbav:"error,omitempty"`

	Results []faceswap.PageResult `json:"results" dynamodbav:"-"`
}

// RunStore saves and loads runs. Implementations are safe for concurrent use.
type RunStore interface {
	// PutRun creates or replaces a run record.
	PutRun(ctx context.Context, run *Run) error

	// GetRun returns the run with id, or nil, nil if it does not exist.
	GetRun(ctx context.Context, id string) (*Run, error)
}

// FromResult fills the summary fields of run from a pipeline result.
func (r *Run) FromResult(res *faceswap.Result) {
	if res == nil {
		return
	}
	r.Results = res.Results
	r.SuccessCount = res.SuccessCount
	r.FailedCount = res.FailedCount
	r.PortraitTimeMs = res.PortraitDuration.Milliseconds()
	r.PageTimeMs = res.PageDuration.Milliseconds()
	r.TotalTimeMs = res.TotalDuration.Milliseconds()
	r.FailedPoses = make([]string, 0, len(res.FailedPoses))
	for _, p := range res.FailedPoses {
		r.FailedPoses = append(r.FailedPoses, string(p))
	}
	r.SetMethods(res.Methods)
}

// SetMethods records the method histogram with every method present, zero
// counts included.
func (r *Run) SetMethods(b faceswap.MethodBreakdown) {
	r.Methods = make(map[string]int, len(faceswap.AllMethods))
	for _, m := range faceswap.AllMethods {
		r.Methods[string(m)] = b[m]
	}
}

// Finish stamps the terminal status and completion time.
func (r *Run) Finish(status Status, err error) {
	r.Status = status
	r.CompletedAt = time.Now().Unix()
	if err != nil {
		r.Error = err.Error()
	}
}
