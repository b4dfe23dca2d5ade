package domain

import "time"

// AlertRecord is one price-drop notification, recorded whether or not the
// downstream send succeeded. Used for the per-user daily cap and retention.
type AlertRecord struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	TripID       string    `gorm:"type:text;not null;index" json:"trip_id"`
	UserEmail    string    `gorm:"type:text;not null;index" json:"user_email"`
	PaidPrice    float64   `json:"paid_price"`
	CheckedPrice float64   `json:"checked_price"`
	Savings      float64   `json:"savings"`
	Sent         bool      `json:"sent"`
	SendError    string    `json:"send_error,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// TableName returns the database table name for AlertRecord.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (AlertRecord) TableName() string {
	return "alert_records"
}
