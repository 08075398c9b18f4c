package masterdata

import "errors"

// ErrNotFound marks a device or location that does not exist.
var ErrNotFound = errors.New("masterdata: not found")
