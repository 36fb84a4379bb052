package db

import (
	"context"
	"database/sql"
)

// Database defines the unified interface for relational database operations.
// Implementations wrap a concrete driver (MySQL, PostgreSQL) behind the same
// surface so repositories do not depend on a specific engine.
type Database interface {
	// Query executes a query that returns rows
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)

	// QueryRow executes a query that returns at most one row
	QueryRow(ctx context.Context, query string, args ...interface{}) Row

	// Exec executes a query that doesn't return rows
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	// Transaction executes fn inside a transaction, committing on nil error
	// and rolling back otherwise
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// BeginTx starts a transaction with the given options
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)

	// Prepare creates a prepared statement
	Prepare(ctx context.Context, query string) (Stmt, error)

	// Ping verifies the connection is still alive
	Ping(ctx context.Context) error

	// Close closes the database and its connection pool
	Close() error

	// Stats returns connection pool statistics
	Stats() Stats

	// GetDB exposes the underlying driver handle for integrations that need it
	GetDB() interface{}
}

// Rows is the result of a query that returns multiple rows
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
	Columns() ([]string, error)
	ColumnTypes() ([]ColumnType, error)
	NextResultSet() bool
}

// Row is the result of a query that returns at most one row
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Transaction represents an in-progress database transaction
type Transaction interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	Prepare(ctx context.Context, query string) (Stmt, error)
	Commit() error
	Rollback() error
}

// Stmt is a prepared statement bound to a database or transaction
type Stmt interface {
	Exec(ctx context.Context, args ...interface{}) (Result, error)
	Query(ctx context.Context, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, args ...interface{}) Row
	Close() error
}

// ColumnType describes a column returned by a query
type ColumnType interface {
	Name() string
	DatabaseTypeName() string
	Length() (int64, bool)
	Nullable() (bool, bool)
	DecimalSize() (int64, int64, bool)
	ScanType() interface{}
}

// IsolationLevel is the transaction isolation level, mirroring sql.IsolationLevel
type IsolationLevel int

const (
	LevelDefault IsolationLevel = iota
	LevelReadUncommitted
	LevelReadCommitted
	LevelWriteCommitted
	LevelRepeatableRead
	LevelSnapshot
	LevelSerializable
	LevelLinearizable
)

// TxOptions holds transaction options
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions translates TxOptions into driver-level sql.TxOptions.
// A nil input yields nil so callers get the driver defaults.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{
		Isolation: sql.IsolationLevel(opts.Isolation),
		ReadOnly:  opts.ReadOnly,
	}
}

// Stats holds connection pool statistics
type Stats struct {
	MaxOpenConnections int

	OpenConnections int
	InUse           int
	Idle            int

	WaitCount         int64
	WaitDuration      int64
	MaxIdleClosed     int64
	MaxIdleTimeClosed int64
	MaxLifetimeClosed int64
}

// ConvertSQLStats translates sql.DBStats into Stats
func ConvertSQLStats(s sql.DBStats) Stats {
	return Stats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       int64(s.WaitDuration),
		MaxIdleClosed:      s.MaxIdleClosed,
		MaxIdleTimeClosed:  s.MaxIdleTimeClosed,
		MaxLifetimeClosed:  s.MaxLifetimeClosed,
	}
}
