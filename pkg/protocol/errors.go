package protocol

// Originating layers reported in error events (data.layer).
const (
	LayerValidation = "validation"
	LayerResolver   = "resolver"
	LayerExecutor   = "executor"
	LayerRuntime    = "runtime"
	LayerSession    = "session"
	LayerTransport  = "transport"
)

// Error codes for non-stream JSON responses.
const (
	ErrInvalidRequest    = "INVALID_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrNotFound          = "NOT_FOUND"
	ErrResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrUnavailable       = "UNAVAILABLE"
	ErrInternal          = "INTERNAL"
)

// ErrorShape is the body of a non-stream error response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an ErrorShape.
func NewError(code, message string) *ErrorShape {
	return &ErrorShape{Code: code, Message: message}
}
