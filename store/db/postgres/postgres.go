package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/chatsense/internal/profile"
	"github.com/hrygo/chatsense/store"
)

// DB is the Postgres implementation of store.Driver.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a Postgres database specified by its connection string.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database with dsn: %s", profile.DSN)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	driver := DB{db: db, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() any {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// placeholder returns the n-th positional parameter, 1-based.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := []string{}
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}

// int64Array wraps a slice for array columns. A nil slice is written as an
// empty array, not NULL, so NOT NULL array columns stay satisfied.
func int64Array(v []int64) pq.Int64Array {
	if v == nil {
		v = []int64{}
	}
	return pq.Int64Array(v)
}

// textArray is int64Array for text columns.
func textArray(v []string) pq.StringArray {
	if v == nil {
		v = []string{}
	}
	return pq.StringArray(v)
}

// queueTable validates a queue table identifier before it is interpolated
// into SQL text.
func queueTable(table string) (string, error) {
	if !store.QueueTables[table] {
		return "", errors.Errorf("unknown queue table: %s", table)
	}
	return table, nil
}
