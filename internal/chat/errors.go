package chat

// Error codes for domain errors.
const (
	ErrCodeEmptyMessage = "empty_message"
	ErrCodeNotConnected = "not_connected"
	ErrCodeSendFailed   = "send_failed"
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func chatError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
