package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/logger"
)

// WebhookNotifier posts alert payloads to the configured mailer webhook,
// which owns template rendering and delivery.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(30 * time.Second)

	return &WebhookNotifier{
		client: client,
		url:    url,
	}
}

type webhookPayload struct {
	TripID       string  `json:"trip_id"`
	UserEmail    string  `json:"user_email"`
	Origin       string  `json:"origin,omitempty"`
	Destination  string  `json:"destination,omitempty"`
	FareClass    string  `json:"fare_class,omitempty"`
	PaidPrice    float64 `json:"paid_price"`
	CurrentPrice float64 `json:"current_price"`
	Savings      float64 `json:"savings"`
}

// Notify posts the alert facts for one trip.
func (n *WebhookNotifier) Notify(ctx context.Context, trip *domain.Trip, facts AlertFacts) error {
	payload := webhookPayload{
		TripID:       trip.ID,
		UserEmail:    trip.UserEmail,
		FareClass:    trip.FareClass,
		PaidPrice:    facts.PaidPrice,
		CurrentPrice: facts.CurrentPrice,
		Savings:      facts.Savings,
	}
	if len(trip.Segments) > 0 {
		payload.Origin = trip.Segments[0].Origin
		payload.Destination = trip.Segments[0].Destination
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook: unexpected status %d", resp.StatusCode())
	}
	return nil
}

// LogNotifier is the fallback when no webhook is configured; it only logs.
type LogNotifier struct{}

// Notify logs the alert facts instead of delivering them.
func (LogNotifier) Notify(ctx context.Context, trip *domain.Trip, facts AlertFacts) error {
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldTripID:    trip.ID,
		logger.FieldUserEmail: trip.UserEmail,
		logger.FieldPrice:     facts.CurrentPrice,
		logger.FieldSavings:   facts.Savings,
	}).Info("Price-drop alert (no webhook configured)")
	return nil
}
