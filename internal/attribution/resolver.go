package attribution

import (
	"context"
)

// Resolver is one strategy for attributing a sender name to a tenant.
// Returning (nil, nil) means the strategy has no opinion and the next one
// runs; a non-nil MatchResult is terminal for the chain, matched or not.
//
// Strategies are ordered cheapest-first: cache lookup, exact roster scan,
// then the AI matcher. Adding a new strategy (say, phone-number matching)
// means implementing this interface and inserting it into the chain.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, req *Request) (*MatchResult, error)
}
