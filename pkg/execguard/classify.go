package execguard

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Class buckets execution errors for the retry policy.
type Class int

const (
	// ClassTransient errors (connection loss, deadlock, lock timeout) are
	// retried with bounded backoff.
	ClassTransient Class = iota
	// ClassTimeout errors surface as a timeout outcome; retrying would just
	// burn the caller's remaining deadline.
	ClassTimeout
	// ClassPermanent errors propagate immediately.
	ClassPermanent
)

// Postgres error codes treated as transient.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
}

const queryCanceledCode = "57014"

// Classify buckets an execution error.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == queryCanceledCode {
			// statement_timeout fired server-side.
			return ClassTimeout
		}
		if transientCodes[pgErr.Code] {
			return ClassTransient
		}
		return ClassPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ClassTransient
	}
	if pgconn.SafeToRetry(err) {
		return ClassTransient
	}
	return ClassPermanent
}
