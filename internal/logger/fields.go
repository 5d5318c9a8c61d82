package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields carried through contexts.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldMerchantID is the tenant whose catalog is being touched
	FieldMerchantID = "merchant_id"

	// FieldProductID is the product a write or job refers to
	FieldProductID = "product_id"

	// FieldJobMode is the scrape job mode (minimal/full)
	FieldJobMode = "job_mode"

	// FieldWorkerID is the scrape worker index
	FieldWorkerID = "worker_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Standard metric fields attached at the log site.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
)
