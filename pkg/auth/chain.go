package auth

import (
	"context"
	"errors"
	"fmt"
)

// Chain tries authenticators in order; the first success wins. A request
// that satisfies none of them is rejected, so the gateway stays closed by
// default. Put an AnonymousAuthenticator last to open it up explicitly.
type Chain struct {
	authenticators []Authenticator
}

// NewChain creates a Chain.
func NewChain(authenticators ...Authenticator) *Chain {
	return &Chain{authenticators: authenticators}
}

// Authenticate runs the chain.
func (c *Chain) Authenticate(ctx context.Context) (*Principal, error) {
	if len(c.authenticators) == 0 {
		return nil, errors.New("no authenticators configured")
	}
	var errs []error
	for _, a := range c.authenticators {
		p, err := a.Authenticate(ctx)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("authentication failed: %w", errors.Join(errs...))
}

var _ Authenticator = (*Chain)(nil)
