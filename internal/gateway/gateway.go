// Package gateway wraps the payment provider. The platform never moves
// money itself: escrow releases, refunds and payouts are delegated here.
package gateway

import "context"

type VerifyResult struct {
	Reference string
	Status    string // success | failed | abandoned
	Amount    int64  // minor units
	PayerRef  string
}

// Client is the contract the escrow ledger depends on. All calls are
// fallible network operations; callers must treat any error as "funds did
// not move" and keep local state unchanged.
type Client interface {
	// Charge initializes a payment and returns the provider reference.
	Charge(ctx context.Context, amount int64, payerRef string) (string, error)
	// Verify looks up the outcome of a previously initialized charge.
	Verify(ctx context.Context, reference string) (VerifyResult, error)
	// Transfer pays out to a seller or driver settlement account.
	Transfer(ctx context.Context, amount int64, payeeRef, reason string) (string, error)
	// Refund returns funds against an earlier charge.
	Refund(ctx context.Context, reference string, amount int64) (string, error)
}
