package bus

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"ridesaga/internal/event"
)

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher publishes events to an Amazon EventBridge bus.
type EventBridgePublisher struct {
	client  EventBridgeAPI
	busName string
}

// NewEventBridgePublisher creates a new EventBridgePublisher.
func NewEventBridgePublisher(client EventBridgeAPI, busName string) *EventBridgePublisher {
	return &EventBridgePublisher{client: client, busName: busName}
}

// Publish sends one event. A rejected entry is reported as an error.
func (p *EventBridgePublisher) Publish(ctx context.Context, source string, d event.Detail) error {
	env, err := event.New(source, d)
	if err != nil {
		return err
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			EventBusName: aws.String(p.busName),
			Source:       aws.String(source),
			DetailType:   aws.String(env.DetailType),
			Detail:       aws.String(string(env.Detail)),
			Time:         aws.Time(env.Time),
		}},
	})
	if err != nil {
		return fmt.Errorf("put %s to %s: %w", env.DetailType, p.busName, err)
	}

	if out.FailedEntryCount > 0 {
		var code, msg string
		if len(out.Entries) > 0 {
			code = aws.ToString(out.Entries[0].ErrorCode)
			msg = aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("eventbridge rejected %s: %s %s", env.DetailType, code, msg)
	}

	return nil
}
