package dbctx

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Context bundles a request context with an optional transaction. Repositories
// run on Tx when it is set and on the shared pool otherwise.
type Context struct {
	Ctx context.Context
	Tx  pgx.Tx
}

// New wraps ctx without a transaction.
func New(ctx context.Context) Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return Context{Ctx: ctx}
}

// WithTx returns a copy bound to tx.
func (c Context) WithTx(tx pgx.Tx) Context {
	c.Tx = tx
	return c
}

// Context returns the request context, never nil.
func (c Context) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}
