package chi

import "time"

// ErrorResponseCode is a machine-readable error code.
type ErrorResponseCode string

// Error codes returned by the API.
const (
	ErrorResponseCodeBadRequest             ErrorResponseCode = "bad_request"
	ErrorResponseCodeValidationFailed       ErrorResponseCode = "validation_failed"
	ErrorResponseCodeUnauthorized           ErrorResponseCode = "unauthorized"
	ErrorResponseCodeNotFound               ErrorResponseCode = "not_found"
	ErrorResponseCodeEmbeddingUnavailable   ErrorResponseCode = "embedding_unavailable"
	ErrorResponseCodeEmbeddingProviderError ErrorResponseCode = "embedding_provider_error"
	ErrorResponseCodeGenerationFailed       ErrorResponseCode = "generation_failed"
	ErrorResponseCodeInternalError          ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
}

// ChatRequest is the body of POST /api/chat and POST /api/chat/stream.
type ChatRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
	// OnlyFuture defaults to the server setting when omitted.
	OnlyFuture *bool `json:"only_future"`
}

// Event is a recommended or retrieved event card.
type Event struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	ScheduledDate *string `json:"scheduled_date"`
	Category      string  `json:"category"`
	Tags          string  `json:"tags"`
	URL           string  `json:"url"`
	Score         float64 `json:"score"`
}

// EventDetail is the body of GET /api/events/{id}.
type EventDetail struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	ScheduledDate *string `json:"scheduled_date"`
	Category      string  `json:"category"`
	Tags          string  `json:"tags"`
	URL           string  `json:"url"`
	// Embedded is false while the event is still invisible to retrieval.
	Embedded bool `json:"embedded"`
}

// ChatResponse is the body of a successful POST /api/chat.
type ChatResponse struct {
	Answer         string  `json:"answer"`
	FollowUp       string  `json:"follow_up"`
	RecommendedIDs []int64 `json:"recommended_ids"`
	Events         []Event `json:"events"`
	NoCandidates   bool    `json:"no_candidates"`
	Fallback       bool    `json:"fallback"`
}

// SearchParams are the query parameters of GET /api/search.
type SearchParams struct {
	Q      *string `form:"q" json:"q,omitempty"`
	Future *string `form:"future" json:"future,omitempty"`
}

// SearchResponse is the body of GET /api/search.
type SearchResponse struct {
	Query      string  `json:"query"`
	OnlyFuture bool    `json:"only_future"`
	Results    []Event `json:"results"`
	// Unembedded counts in-scope events hidden from search because they have no embedding yet.
	Unembedded int `json:"unembedded"`
}

// HealthResponseStatus is the aggregated health status.
type HealthResponseStatus string

// HealthResponseChecks is a single component check result.
type HealthResponseChecks string

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    HealthResponseStatus            `json:"status"`
	Checks    map[string]HealthResponseChecks `json:"checks"`
	Version   string                          `json:"version"`
	CheckedAt time.Time                       `json:"checked_at"`
}
