package domain

import "time"

// TripStatus represents the lifecycle state of a monitored trip.
type TripStatus string

const (
	TripStatusActive    TripStatus = "active"
	TripStatusPaused    TripStatus = "paused"
	TripStatusCompleted TripStatus = "completed"
	TripStatusExpired   TripStatus = "expired"
	TripStatusArchived  TripStatus = "archived"
)

// MaxPriceHistory caps the per-trip price log; older entries are dropped.
const MaxPriceHistory = 50

// DateLayout is the date-only format used for segment departure dates and
// "today" comparisons.
const DateLayout = "2006-01-02"

// FlightSegment is one leg of a trip's itinerary.
type FlightSegment struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departure_date"` // date-only, DateLayout
	FlightNumber  string `json:"flight_number,omitempty"`
	Passengers    int    `json:"passengers"`
}

// PricePoint is one observation in a trip's price history.
type PricePoint struct {
	Price     float64   `json:"price"`
	FareClass string    `json:"fare_class,omitempty"`
	Source    string    `json:"source,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Trip is a booked itinerary being monitored for price drops.
type Trip struct {
	ID        string     `gorm:"type:text;primaryKey" json:"id"`
	UserEmail string     `gorm:"type:text;not null;index" json:"user_email"`
	Status    TripStatus `gorm:"default:active;index" json:"status"`

	// Itinerary
	Segments         []FlightSegment `gorm:"serializer:json" json:"segments"`
	FirstDepartureOn string          `gorm:"type:text;index" json:"first_departure_on"` // denormalized from Segments[0]
	FareClass        string          `json:"fare_class,omitempty"`
	Currency         string          `gorm:"default:USD" json:"currency"`

	// Price facts
	PaidPrice        float64      `json:"paid_price"`
	LastCheckedPrice *float64     `json:"last_checked_price,omitempty"`
	LowestSeen       *float64     `json:"lowest_seen,omitempty"`
	PriceHistory     []PricePoint `gorm:"serializer:json" json:"price_history,omitempty"`

	// Scheduling state
	CheckEnabled      bool       `gorm:"default:true" json:"check_enabled"`
	Priority          int        `gorm:"default:0;index" json:"priority"`
	CheckEveryMinutes *int       `json:"check_every_minutes,omitempty"`
	NextCheckAt       *time.Time `gorm:"index" json:"next_check_at,omitempty"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	FailureCount      int        `gorm:"default:0" json:"failure_count"`
	LastCheckError    string     `json:"last_check_error,omitempty"`
	LastCheckErrorAt  *time.Time `json:"last_check_error_at,omitempty"`

	// Per-trip alert override; nil falls back to the global threshold.
	AlertThresholdUSD *float64 `json:"alert_threshold_usd,omitempty"`

	// Check lease, held while an executor owns this trip.
	CheckLease      string     `gorm:"type:text" json:"-"`
	CheckLeaseUntil *time.Time `json:"-"`

	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Trip.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Trip) TableName() string {
	return "trips"
}

// FirstSegmentDate parses the departure date of the first segment.
// Returns the zero time when the itinerary is empty or malformed.
func (t *Trip) FirstSegmentDate(loc *time.Location) time.Time {
	if len(t.Segments) == 0 {
		return time.Time{}
	}
	d, err := time.ParseInLocation(DateLayout, t.Segments[0].DepartureDate, loc)
	if err != nil {
		return time.Time{}
	}
	return d
}

// HasFutureSegment reports whether at least one segment departs today or
// later in the given location.
func (t *Trip) HasFutureSegment(now time.Time, loc *time.Location) bool {
	today := now.In(loc).Format(DateLayout)
	for _, seg := range t.Segments {
		if seg.DepartureDate >= today {
			return true
		}
	}
	return false
}

// PushPricePoint appends an observation to the price history, keeping only
// the most recent MaxPriceHistory entries, and maintains LowestSeen.
func (t *Trip) PushPricePoint(p PricePoint) {
	t.PriceHistory = append(t.PriceHistory, p)
	if len(t.PriceHistory) > MaxPriceHistory {
		t.PriceHistory = t.PriceHistory[len(t.PriceHistory)-MaxPriceHistory:]
	}
	if t.LowestSeen == nil || p.Price < *t.LowestSeen {
		v := p.Price
		t.LowestSeen = &v
	}
}
