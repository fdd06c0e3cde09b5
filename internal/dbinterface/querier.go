// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface lets stores accept *sql.DB, *sql.Tx or *database.DB
// without importing the database package.
package dbinterface

import (
	"context"
	"database/sql"
)

// Querier is implemented by *sql.DB, *sql.Tx and *database.DB.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
