package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kmowery/farewatch/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with migrations applied.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.Trip{}, &domain.CheckJob{}, &domain.AlertRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func seedTrip(t *testing.T, repo *TripRepository, mutate func(*domain.Trip)) *domain.Trip {
	t.Helper()
	departure := time.Now().AddDate(0, 0, 30).Format(domain.DateLayout)
	trip := &domain.Trip{
		ID:        uuid.New().String(),
		UserEmail: "alex@example.com",
		Status:    domain.TripStatusActive,
		Segments: []domain.FlightSegment{
			{Origin: "SFO", Destination: "JFK", DepartureDate: departure, Passengers: 1},
		},
		FareClass:    "economy",
		Currency:     "USD",
		PaidPrice:    599,
		CheckEnabled: true,
	}
	if mutate != nil {
		mutate(trip)
	}
	if err := repo.Create(context.Background(), trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return trip
}
