package faceswap

import (
	"sync"

	"github.com/fpang/storybook-faceswap/internal/story"
)

// EventType is the "type" field of a progress event on the wire.
type EventType string

const (
	EventStart             EventType = "start"
	EventPortraitsStart    EventType = "portraits_start"
	EventPortraitComplete  EventType = "portrait_complete"
	EventPortraitsComplete EventType = "portraits_complete"
	EventPageStart         EventType = "page_start"
	EventImage             EventType = "image"
	EventComplete          EventType = "complete"
	EventError             EventType = "error"
)

// Event is one progress event. A run emits, in order:
//
//	start, portraits_start, portrait_complete*, portraits_complete,
//	(page_start, image)*, complete
//
// or stops early with a single error event.
type Event interface {
	Type() EventType
}

type StartEvent struct {
	RunID       string `json:"runId"`
	ChildName   string `json:"childName"`
	TotalPages  int    `json:"totalPages"`
	PageNumbers []int  `json:"pageNumbers"`
}

type PortraitsStartEvent struct {
	TotalPoses int `json:"totalPoses"`
}

type PortraitCompleteEvent struct {
	Pose      story.Pose `json:"pose"`
	Success   bool       `json:"success"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
}

type PortraitsCompleteEvent struct {
	SuccessCount int          `json:"successCount"`
	FailedCount  int          `json:"failedCount"`
	FailedPoses  []story.Pose `json:"failedPoses"`
	DurationMs   int64        `json:"durationMs"`
}

type PageStartEvent struct {
	PageNumber int `json:"pageNumber"`
	Batch      int `json:"batch"`
}

// ImageEvent carries a resolved page. Successful or not, every processed
// page produces exactly one.
type ImageEvent struct {
	PageResult
}

type CompleteEvent struct {
	RunID           string          `json:"runId"`
	TotalPages      int             `json:"totalPages"`
	SuccessCount    int             `json:"successCount"`
	FailedCount     int             `json:"failedCount"`
	PortraitTimeMs  int64           `json:"portraitTimeMs"`
	PageTimeMs      int64           `json:"pageTimeMs"`
	TotalTimeMs     int64           `json:"totalTimeMs"`
	MethodBreakdown MethodBreakdown `json:"methodBreakdown"`
	Results         []PageResult    `json:"results"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (StartEvent) Type() EventType             { return EventStart }
func (PortraitsStartEvent) Type() EventType    { return EventPortraitsStart }
func (PortraitCompleteEvent) Type() EventType  { return EventPortraitComplete }
func (PortraitsCompleteEvent) Type() EventType { return EventPortraitsComplete }
func (PageStartEvent) Type() EventType         { return EventPageStart }
func (ImageEvent) Type() EventType             { return EventImage }
func (CompleteEvent) Type() EventType          { return EventComplete }
func (ErrorEvent) Type() EventType             { return EventError }

// EventSink receives progress events. The pipeline serializes calls to Emit.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard EventSink = EventSinkFunc(func(Event) {})

type lockedSink struct {
	mu   sync.Mutex
	sink EventSink
}

func (s *lockedSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink.Emit(e)
}
