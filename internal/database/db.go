// Package database owns the MySQL connection pool.  Every statement runs on a
// connection checked out for the duration of one call and handed back before
// the call returns, whatever the outcome.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Options configures Open.
type Options struct {
	User           string
	Password       string
	Host           string
	Port           string
	Name           string
	Size           int           // max concurrent connections, defaults to 4
	Timezone       string        // session offset such as "+08:00"
	ConnectTimeout time.Duration // dial timeout, defaults to 10s
}

// DefaultSize is the pool capacity used when Options.Size is not positive.
const DefaultSize = 4

// Pool is a bounded set of reusable connections.
type Pool struct {
	db       *sql.DB
	size     int
	acquired atomic.Int64
	released atomic.Int64
}

// Stats reports how many connections have been handed out and returned.
type Stats struct {
	Size     int
	Acquired int64
	Released int64
	InUse    int // as seen by database/sql
}

// Open builds a pool for the MySQL server described by o.  No connection is
// made until the first Acquire; use Probe to verify the server is reachable.
func Open(o Options) (*Pool, error) {
	cfg, err := DriverConfig(o)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return NewPool(sql.OpenDB(connector), o.Size), nil
}

// DriverConfig translates o into a go-sql-driver/mysql configuration.
func DriverConfig(o Options) (*mysql.Config, error) {
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(o.Host, o.Port)
	cfg.DBName = o.Name
	cfg.Timeout = o.ConnectTimeout
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if o.Timezone != "" {
		loc, err := fixedZone(o.Timezone)
		if err != nil {
			return nil, err
		}
		cfg.Loc = loc
		// the server converts TIMESTAMP columns using this session zone
		cfg.Params = map[string]string{"time_zone": "'" + o.Timezone + "'"}
	}
	return cfg, nil
}

// NewPool wraps an existing handle and caps it at size connections.
func NewPool(db *sql.DB, size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Pool{db: db, size: size}
}

// Acquire checks out a connection, waiting until one is free or ctx is done.
// Each successful Acquire must be paired with exactly one Release.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	p.acquired.Add(1)
	return conn, nil
}

// Release returns conn to the pool.  Releasing a connection twice is logged
// and not counted again.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	// sql.Conn.Close hands the connection back, it does not drop it
	if err := conn.Close(); err != nil {
		log.Printf("database: release: %v", err)
		return
	}
	p.released.Add(1)
}

// Query runs query with args on a pooled connection and calls scan for each
// row.  The connection is released before Query returns.  Errors are not
// retried.
func (p *Pool) Query(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Probe checks out one connection and pings the server with a 5 second
// timeout.
func (p *Pool) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:     p.size,
		Acquired: p.acquired.Load(),
		Released: p.released.Load(),
		InUse:    p.db.Stats().InUse,
	}
}

// Size is the pool capacity.
func (p *Pool) Size() int { return p.size }

// Close shuts the pool down.  It is called once at process exit.
func (p *Pool) Close() error {
	return p.db.Close()
}

// fixedZone turns "+08:00" style offsets into a *time.Location.
func fixedZone(s string) (*time.Location, error) {
	if s == "Z" || s == "UTC" {
		return time.UTC, nil
	}
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return nil, fmt.Errorf("invalid time zone offset %q", s)
	}
	h, err1 := strconv.Atoi(s[1:3])
	m, err2 := strconv.Atoi(s[4:6])
	if err1 != nil || err2 != nil || h > 14 || m > 59 {
		return nil, fmt.Errorf("invalid time zone offset %q", s)
	}
	secs := h*3600 + m*60
	if s[0] == '-' {
		secs = -secs
	}
	return time.FixedZone(s, secs), nil
}
