package analytics

import "errors"

var errNotConfigured = errors.New("analytics store is not configured")
