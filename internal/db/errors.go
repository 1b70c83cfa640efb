package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrKeyNotFound   = errors.New("db: key not found")
	ErrIndexNotFound = errors.New("db: index not found")
)

// Op names used for error context.
const (
	OpPing      = "PING"
	OpIndexInfo = "FT.INFO"
	OpSearch    = "FT.SEARCH"
	OpGet       = "GET"
	OpSet       = "SET"

	OpQuery  = "points.Query"
	OpCount  = "points.Count"
	OpScroll = "points.Scroll"
	OpHealth = "HealthCheck"

	OpSelect = "SELECT"

	OpBoltGet = "bolt.Get"
	OpBoltPut = "bolt.Put"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
