package notify

import (
	"context"

	"github.com/kmowery/farewatch/internal/domain"
)

// AlertFacts carries the numbers a price-drop notification is built from.
type AlertFacts struct {
	PaidPrice    float64 `json:"paid_price"`
	CurrentPrice float64 `json:"current_price"`
	Savings      float64 `json:"savings"`
}

// Notifier delivers a price-drop alert for a trip. Send failures are
// logged by the caller, never retried.
type Notifier interface {
	Notify(ctx context.Context, trip *domain.Trip, facts AlertFacts) error
}
