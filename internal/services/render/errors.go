package render

import "errors"

// Error is a render failure with a retry classification. Transient errors
// (timeouts, navigation failures, browser crashes) are worth another
// attempt; permanent ones (bad render mode, empty document) are not.
type Error struct {
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return e.Message
}

// transientf builds a retryable render error
func transientf(msg string) *Error {
	return &Error{Message: msg, Transient: true}
}

// permanentf builds a non-retryable render error
func permanentf(msg string) *Error {
	return &Error{Message: msg, Transient: false}
}

// IsTransient reports whether err is worth retrying. Unclassified errors
// are treated as transient so flaky pages get their retry budget.
func IsTransient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Transient
	}
	return true
}
