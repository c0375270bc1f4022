package collector

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports an inbound body that cannot be treated as a notification.
// Nothing is stored when it is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid payload: " + e.Reason
}

// StorageError wraps a failure of the event store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ChatSinkError is returned by ChatSender implementations. It never reaches an HTTP caller.
type ChatSinkError struct {
	StatusCode int
	ErrCode    int
	Message    string
}

func (e *ChatSinkError) Error() string {
	if e.StatusCode != 0 && (e.StatusCode < 200 || e.StatusCode > 299) {
		return fmt.Sprintf("chat sink: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat sink: errcode=%d errmsg=%q", e.ErrCode, e.Message)
}

// httpStatusFor maps an ingest/read error to the status reported to the caller.
func httpStatusFor(err error) int {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
