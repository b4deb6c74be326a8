// Package pgxutil reaches through the database/sql pool to the native pgx
// connection, so repositories get pgx's query interface while the rest of
// the program shares one *sql.DB.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// WithPgxConn borrows a pooled connection, unwraps it to *pgx.Conn, and runs
// fn with it. The connection returns to the pool when fn finishes.
func WithPgxConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		bridged, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return errors.New("driver connection is not a pgx stdlib conn")
		}
		return fn(bridged.Conn())
	})
}

// WithPgxTx runs fn inside a pgx transaction on a bridged connection,
// committing on success and rolling back on error.
func WithPgxTx(ctx context.Context, db *sql.DB, fn func(pgx.Tx) error) error {
	return WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() {
			// Rollback after commit returns pgx.ErrTxClosed; anything else
			// is already reflected in the returned error.
			_ = tx.Rollback(ctx)
		}()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
