package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kmowery/farewatch/internal/domain"
)

func seedAlert(t *testing.T, repo *AlertRepository, userEmail string, age time.Duration) *domain.AlertRecord {
	t.Helper()
	rec := &domain.AlertRecord{
		ID:           uuid.New().String(),
		TripID:       "trip-1",
		UserEmail:    userEmail,
		PaidPrice:    599,
		CheckedPrice: 450,
		Savings:      149,
		Sent:         true,
		CreatedAt:    time.Now().Add(-age),
	}
	if err := repo.Record(context.Background(), rec); err != nil {
		t.Fatalf("record alert: %v", err)
	}
	return rec
}

func TestCountForUserSince(t *testing.T) {
	repo := NewAlertRepository(newTestDB(t))

	seedAlert(t, repo, "alex@example.com", time.Hour)
	seedAlert(t, repo, "alex@example.com", 2*time.Hour)
	seedAlert(t, repo, "alex@example.com", 30*time.Hour) // before the window
	seedAlert(t, repo, "sam@example.com", time.Hour)     // other user

	count, err := repo.CountForUserSince(context.Background(), "alex@example.com", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestListByTripNewestFirst(t *testing.T) {
	repo := NewAlertRepository(newTestDB(t))

	older := seedAlert(t, repo, "alex@example.com", 2*time.Hour)
	newer := seedAlert(t, repo, "alex@example.com", time.Hour)

	got, err := repo.ListByTrip(context.Background(), "trip-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("alerts = %d, want 2", len(got))
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Errorf("order = [%s, %s], want newest first", got[0].ID, got[1].ID)
	}
}
