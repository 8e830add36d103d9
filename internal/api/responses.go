package api

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Kind    string         `json:"kind" example:"conflict"`
	Message string         `json:"message" example:"The account was changed by another session. Refresh and try again"`
	Details map[string]any `json:"details,omitempty"`
}

func NewErrorResponse(kind, message string, details map[string]any) ErrorResponse {
	if len(details) == 0 {
		details = nil
	}
	return ErrorResponse{Error: ErrorBody{Kind: kind, Message: message, Details: details}}
}

type MessageResponse struct {
	Message string `json:"message" example:"ok"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// KindUnauthorized is used by the auth middleware, which rejects requests
// before any service error can be produced.
const KindUnauthorized = "unauthorized"
