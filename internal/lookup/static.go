package lookup

import (
	"context"
	"fmt"
	"strings"
)

// Static resolves from fixed lists, used when no upstream service is configured
type Static struct {
	securities map[string]Security
	accounts   map[int]Account
}

// NewStatic builds a resolver that knows exactly the given tickers and accounts
func NewStatic(tickers []string, accounts []int) *Static {
	s := &Static{
		securities: make(map[string]Security, len(tickers)),
		accounts:   make(map[int]Account, len(accounts)),
	}
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			s.securities[t] = Security{Ticker: t}
		}
	}
	for _, id := range accounts {
		s.accounts[id] = Account{ID: id}
	}
	return s
}

func (s *Static) ResolveSecurity(ctx context.Context, ticker string) (*Security, error) {
	sec, ok := s.securities[strings.ToUpper(ticker)]
	if !ok {
		return nil, fmt.Errorf("security %s: %w", ticker, ErrNotFound)
	}
	return &sec, nil
}

func (s *Static) ResolveAccount(ctx context.Context, id int) (*Account, error) {
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return &acc, nil
}
