package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snsTypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sirupsen/logrus"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRideCompleted NotificationType = "RIDE_COMPLETED"
	NotificationPaymentFailed NotificationType = "PAYMENT_FAILED"
)

// Notification represents a notification to be sent.
type Notification struct {
	Type        NotificationType       `json:"type"`
	RecipientID string                 `json:"recipientId"` // Rider ID
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Notifier tells riders how their ride ended.
type Notifier interface {
	NotifyRideCompleted(ctx context.Context, outcome PaymentOutcome) error
	NotifyPaymentFailed(ctx context.Context, outcome PaymentOutcome) error
}

// SNSPublisher is the subset of the SNS client used for notifications.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NotificationService handles notification delivery.
// Without an SNS client notifications are only logged.
type NotificationService struct {
	client   SNSPublisher
	topicARN string
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewNotificationService creates a new NotificationService. client may be nil.
func NewNotificationService(client SNSPublisher, topicARN string, logger logrus.FieldLogger) *NotificationService {
	return &NotificationService{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
		now:      time.Now,
	}
}

// NotifyRideCompleted notifies the rider that the ride was paid for.
func (s *NotificationService) NotifyRideCompleted(ctx context.Context, outcome PaymentOutcome) error {
	return s.send(ctx, Notification{
		Type:        NotificationRideCompleted,
		RecipientID: outcome.RiderID,
		Title:       "Ride Completed",
		Message:     fmt.Sprintf("Payment of $%.2f was successful. Thanks for riding!", outcome.Amount),
		Data: map[string]interface{}{
			"ride_id":    outcome.RideID,
			"payment_id": outcome.PaymentID,
			"amount":     outcome.Amount,
		},
		CreatedAt: s.now().UTC(),
	})
}

// NotifyPaymentFailed notifies the rider of failed payment.
func (s *NotificationService) NotifyPaymentFailed(ctx context.Context, outcome PaymentOutcome) error {
	return s.send(ctx, Notification{
		Type:        NotificationPaymentFailed,
		RecipientID: outcome.RiderID,
		Title:       "Payment Failed",
		Message:     fmt.Sprintf("Payment of $%.2f failed. Please update your payment method.", outcome.Amount),
		Data: map[string]interface{}{
			"ride_id":        outcome.RideID,
			"payment_id":     outcome.PaymentID,
			"amount":         outcome.Amount,
			"failure_reason": outcome.FailureReason,
		},
		CreatedAt: s.now().UTC(),
	})
}

func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	log := s.logger.WithFields(logrus.Fields{
		"type":      notification.Type,
		"recipient": notification.RecipientID,
	})

	if s.client == nil || s.topicARN == "" {
		log.WithField("title", notification.Title).Info(notification.Message)
		return nil
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(notification.Title),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snsTypes.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.Type)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	log.WithField("message_id", aws.ToString(out.MessageId)).Debug("notification sent")
	return nil
}
