package service

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSecurity = errors.New("unknown security")
	ErrUnknownAccount  = errors.New("unknown account")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrStorageFailure  = errors.New("storage failure")
	// ErrLookupUnavailable marks an unknown security/account result caused by
	// a timeout or outage of the lookup service. Callers may retry.
	ErrLookupUnavailable = errors.New("lookup unavailable")
	// ErrDuplicateOrderID is an invalid order whose id was already booked
	// with different terms.
	ErrDuplicateOrderID = fmt.Errorf("%w: order id already booked with different terms", ErrInvalidOrder)
)
