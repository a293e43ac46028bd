package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

type txContextKey struct{}

// WithTransaction stores the running transaction on the context so repositories
// invoked further down join it instead of issuing standalone operations.
func WithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TransactionFrom extracts the transaction placed on the context, if any.
func TransactionFrom(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}
