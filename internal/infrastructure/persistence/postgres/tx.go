package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION MANAGER
//
// Application handlers need several repository calls to commit or roll back
// together (a ledger insert must never land without its score grant). The
// manager opens one pgx transaction, carries it through the context, and the
// repositories in this package pick it up via querier(). Handlers stay free
// of pgx types.
// ══════════════════════════════════════════════════════════════════════════════

type txContextKey struct{}

// TxManager implements shared.TransactionManager on top of Connection.WithTx.
type TxManager struct {
	conn *Connection
}

// NewTxManager creates a new TxManager.
func NewTxManager(conn *Connection) *TxManager {
	return &TxManager{conn: conn}
}

// WithinTransaction runs fn inside a single database transaction. The
// transaction commits if fn returns nil and rolls back otherwise. Nested
// calls join the already-open transaction.
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

// txFromContext returns the transaction carried by ctx, or nil.
func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx
}

// querier returns the active transaction if ctx carries one, otherwise the
// connection itself. Every repository in this package routes its queries
// through it so repository calls compose under WithinTransaction.
func querier(ctx context.Context, conn *Connection) Querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return conn
}
