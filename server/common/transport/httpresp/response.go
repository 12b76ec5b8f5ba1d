package httpresp

const (
	ErrUnauthorized        = "unauthorized"
	ErrMissingBearerToken  = "bearer token is required"
	ErrInvalidToken        = "invalid token"
	ErrConversationUnknown = "conversation not found"
	ErrContentRequired     = "message content required"
	ErrRecipientRequired   = "recipient_id is required"
	ErrUserIDsRequired     = "user_ids must be a non-empty array"
	ErrNotificationUnknown = "notification not found"
	ErrInternal            = "could not complete request"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type IDResponse struct {
	ID string `json:"id"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewIDResponse(id string) IDResponse {
	return IDResponse{ID: id}
}
