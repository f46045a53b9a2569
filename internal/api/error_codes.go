// internal/api/error_codes.go
package api

// API error codes
const (
	ErrorBadRequest         = "BAD_REQUEST"
	ErrorNotFound           = "NOT_FOUND"
	ErrorInternalError      = "INTERNAL_ERROR"
	ErrorValidation         = "VALIDATION_ERROR"
	ErrorRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrorPayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrorServiceUnavailable = "SERVICE_UNAVAILABLE"

	// manifestations
	ErrorManifestationNotFound = "MANIFESTATION_NOT_FOUND"
	ErrorFileNotFound          = "FILE_NOT_FOUND"

	// generator
	ErrorGeneratorUnavailable = "GENERATOR_UNAVAILABLE"
	ErrorGeneratorUpstream    = "GENERATOR_UPSTREAM_ERROR"
)
