package roster

import "errors"

var (
	ErrClassNotFound = errors.New("class not found")
	ErrStoreClosed   = errors.New("roster store is closed")
	ErrWriteTimeout  = errors.New("roster write timeout")
)
