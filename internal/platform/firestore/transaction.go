package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	txMaxAttempts = 3
	txTimeout     = 10 * time.Second
)

// TxFunc is the body of a read-modify-write against the shared client.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction runs fn with a bounded retry count and deadline. The result is
// passed through WrapError; sentinel errors returned by fn stay matchable with
// errors.Is.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}
	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(txMaxAttempts)))
}
