// Package pgmock provides testify mocks of the pgx surface used by the
// Postgres repositories, so their SQL paths and error mapping can be tested
// without a database.
package pgmock

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// DB mocks *pgxpool.Pool. Expectations receive (ctx, sql, args).
type DB struct {
	mock.Mock
}

func (m *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	a := m.Called(ctx, sql, args)
	return a.Get(0).(pgconn.CommandTag), a.Error(1)
}

func (m *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	a := m.Called(ctx, sql, args)
	rows, _ := a.Get(0).(pgx.Rows)
	return rows, a.Error(1)
}

func (m *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.Called(ctx, sql, args).Get(0).(pgx.Row)
}

func (m *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	a := m.Called(ctx)
	tx, _ := a.Get(0).(pgx.Tx)
	return tx, a.Error(1)
}

// Tx mocks the statements and the end of a transaction. Any other pgx.Tx
// method panics.
type Tx struct {
	pgx.Tx
	mock.Mock
}

func (m *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	a := m.Called(ctx, sql, args)
	return a.Get(0).(pgconn.CommandTag), a.Error(1)
}

func (m *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.Called(ctx, sql, args).Get(0).(pgx.Row)
}

func (m *Tx) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *Tx) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// Row scans Values in order, or fails with Err
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(dest) != len(r.Values) {
		return fmt.Errorf("pgmock: %d values for %d targets", len(r.Values), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		value := reflect.ValueOf(r.Values[i])
		if !value.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("pgmock: cannot scan %s into %s", value.Type(), target.Type())
		}
		target.Set(value)
	}
	return nil
}

// SQLContaining matches a statement containing fragment
func SQLContaining(fragment string) any {
	return mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, fragment)
	})
}
