package cache

import (
	"github.com/pkg/errors"
)

var (
	ErrNoCredentials    = errors.New("user has no access tokens")
	ErrFetchFailed      = errors.New("upstream fetch failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidWindow    = errors.New("invalid window")
	ErrInvalidRequest   = errors.New("invalid request")
)

// ErrorKind returns a short label for err, for structured logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredentials):
		return "no_credentials"
	case errors.Is(err, ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	}
	return "unknown"
}

func storeErr(op string, err error) error {
	return errors.Wrapf(ErrStoreUnavailable, "%s: %v", op, err)
}
