package bigquery

import (
	"errors"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrDuplicate reports that an insert targeted a correlation id that is
// already recorded. Every writer treats it as success: the other writer won.
var ErrDuplicate = errors.New("record already exists")

// IsDuplicateErr classifies store errors that mean "this row was already
// written", either by our own guarded insert or by a concurrent writer
// racing us to the same external reference.
func IsDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 409 {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}
