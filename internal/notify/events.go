// Package notify publishes run lifecycle events to Amazon EventBridge.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Event source and detail types.
const (
	Source             = "storybook-faceswap"
	DetailRunCompleted = "RunCompleted"
)

// RunCompleted is the detail of a RunCompleted event.
type RunCompleted struct {
	RunID        string         `json:"runId"`
	Kind         string         `json:"kind"`
	Status       string         `json:"status"`
	ChildName    string         `json:"childName"`
	TotalPages   int            `json:"totalPages"`
	SuccessCount int            `json:"successCount"`
	FailedCount  int            `json:"failedCount"`
	TotalTimeMs  int64          `json:"totalTimeMs"`
	Methods      map[string]int `json:"methodBreakdown,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Notifier receives run lifecycle events.
type Notifier interface {
	RunCompleted(ctx context.Context, event RunCompleted) error
}

type eventPutter interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridge publishes to a named bus.
type EventBridge struct {
	client  eventPutter
	busName string
}

var _ Notifier = (*EventBridge)(nil)

// NewEventBridge creates a publisher for busName.
func NewEventBridge(client *eventbridge.Client, busName string) *EventBridge {
	return &EventBridge{client: client, busName: busName}
}

func (e *EventBridge) RunCompleted(ctx context.Context, event RunCompleted) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal RunCompleted: %w", err)
	}

	input := &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(e.busName),
				Source:       aws.String(Source),
				DetailType:   aws.String(DetailRunCompleted),
				Detail:       aws.String(string(detail)),
			},
		},
	}

	result, err := e.client.PutEvents(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("runId", event.RunID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("runId", event.RunID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("runId", event.RunID).Str("status", event.Status).Msg("RunCompleted emitted to EventBridge")
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) RunCompleted(context.Context, RunCompleted) error { return nil }
