package lookup

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the upstream service does not know the entity
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when the upstream service could not answer in time
	ErrUnavailable = errors.New("lookup unavailable")
)

// Security is a tradable instrument known to reference data
type Security struct {
	Ticker      string `json:"ticker"`
	CompanyName string `json:"companyName"`
}

// Account is a trading account known to the account service
type Account struct {
	ID          int    `json:"id"`
	DisplayName string `json:"displayName"`
}

// SecurityResolver confirms that a ticker exists
type SecurityResolver interface {
	ResolveSecurity(ctx context.Context, ticker string) (*Security, error)
}

// AccountResolver confirms that an account exists
type AccountResolver interface {
	ResolveAccount(ctx context.Context, id int) (*Account, error)
}

// Resolver combines both lookups
type Resolver interface {
	SecurityResolver
	AccountResolver
}

type combined struct {
	SecurityResolver
	AccountResolver
}

// Combine pairs independent security and account resolvers
func Combine(securities SecurityResolver, accounts AccountResolver) Resolver {
	return combined{SecurityResolver: securities, AccountResolver: accounts}
}
