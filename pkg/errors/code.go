// Package errors provides the structured error code system used across
// statute-agent.
//
// Error Code Format: AABBCCC (7 digits)
//
//   - AA:  Service/Module code (00-99)
//   - BB:  Category code (00-99)
//   - CCC: Sequence number (000-999)
//
// Service Codes (AA):
//
//   - 00: Common/Base errors
//   - 10-19: Infrastructure errors
//   - 20: Retrieval service
//   - 90-99: Third-party service errors
//
// Category Codes (BB):
//
//   - 00: Success
//   - 01: Request/Validation errors (400)
//   - 04: Resource errors (404)
//   - 06: Rate limiting errors (429)
//   - 07: Internal errors (500)
//   - 08: Database errors (500)
//   - 09: Cache errors (500)
//   - 10: Network errors (502/503)
//   - 11: Timeout errors (504)
//   - 12: Configuration errors (500)
//   - 13: Unprocessable errors (422)
package errors

// Service codes (AA)
const (
	// ServiceCommon is for common/base errors shared by all services.
	ServiceCommon = 0

	// ServiceInfraDB is for database infrastructure.
	ServiceInfraDB = 10

	// ServiceInfraCache is for cache infrastructure.
	ServiceInfraCache = 11

	// ServiceRetrieval is for the agentic retrieval engine.
	ServiceRetrieval = 20

	// ServiceThirdPartyLLM is for language model providers.
	ServiceThirdPartyLLM = 90

	// ServiceThirdPartyCorpus is for the vector corpus backends.
	ServiceThirdPartyCorpus = 91
)

// Category codes (BB)
const (
	CategorySuccess       = 0
	CategoryRequest       = 1
	CategoryResource      = 4
	CategoryRateLimit     = 6
	CategoryInternal      = 7
	CategoryDatabase      = 8
	CategoryCache         = 9
	CategoryNetwork       = 10
	CategoryTimeout       = 11
	CategoryConfig        = 12
	CategoryUnprocessable = 13
)

// MakeCode creates an error code from service, category, and sequence.
// Format: AABBCCC where AA=service, BB=category, CCC=sequence
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode parses an error code into service, category, and sequence.
func ParseCode(code int) (service, category, sequence int) {
	service = code / 100000
	category = (code % 100000) / 1000
	sequence = code % 1000
	return
}

// GetCategory returns the category code from an error code.
func GetCategory(code int) int {
	return (code % 100000) / 1000
}

// IsClientError checks if the error code indicates a client error (4xx).
func IsClientError(code int) bool {
	category := GetCategory(code)
	return (category >= CategoryRequest && category <= CategoryRateLimit) || category == CategoryUnprocessable
}

// IsServerError checks if the error code indicates a server error (5xx).
func IsServerError(code int) bool {
	category := GetCategory(code)
	return category >= CategoryInternal && category <= CategoryConfig
}
