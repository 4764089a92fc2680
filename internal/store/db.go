// Package store is the primary relational "portal DB" gateway: plain SQL
// against Postgres via lib/pq, no ORM, matching the re-architecture note in
// spec §9 ("typed structs per payload... explicit dependency injection").
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// DB wraps *sql.DB with the pool sizing the teacher's cmd/server/main.go
// left as a TODO ("connect to Spanner/Postgres here") — this module
// actually wires it.
type DB struct {
	*sql.DB
}

// Open dials the portal database and applies pool limits.
func Open(dsn string, maxOpen, maxIdle int) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open portal db: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	return &DB{sqlDB}, nil
}

// Querier is satisfied by both *sql.DB and *sql.Tx, so repository
// functions can run standalone or as part of a caller's transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic (re-panicking after rollback).
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// pqInt64Array adapts a []int64 for use with Postgres' ANY($1) array
// placeholder via lib/pq.
func pqInt64Array(ids []int64) interface{} {
	return pq.Array(ids)
}
