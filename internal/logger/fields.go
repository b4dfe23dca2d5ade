package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldTripID is the monitored trip ID
	FieldTripID = "trip_id"

	// FieldJobID is the queued check job ID
	FieldJobID = "job_id"

	// FieldUserEmail is the owning user's email
	FieldUserEmail = "user_email"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldDispatchToken is the per-dispatch in-flight token
	FieldDispatchToken = "dispatch_token"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldPrice is a checked fare price
	FieldPrice = "price"

	// FieldSavings is the computed paid-minus-current savings
	FieldSavings = "savings"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
