package storage

import "errors"

// ErrNoPool is returned when a storage component is built without a pool.
var ErrNoPool = errors.New("storage: no connection pool")
